package injection

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

// copyToClipboard places the text on the system clipboard. When restore is
// set the previous clipboard contents come back after a short delay, long
// enough for the user to paste.
func copyToClipboard(text string, restore bool) error {
	if clipboard.Unsupported {
		return fmt.Errorf("no clipboard tool available on this system")
	}

	var previous string
	if restore {
		previous, _ = clipboard.ReadAll()
	}

	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}

	if restore && previous != "" {
		go func() {
			time.Sleep(10 * time.Second)
			_ = clipboard.WriteAll(previous)
		}()
	}

	return nil
}
