package injection

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// typeWithOsascript types into the focused element via System Events.
// Requires the accessibility permission; without it osascript exits
// non-zero, which the chain maps onto degraded mode.
func typeWithOsascript(ctx context.Context, text string, timeout time.Duration) error {
	if _, err := exec.LookPath("osascript"); err != nil {
		return fmt.Errorf("osascript not found: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	script := fmt.Sprintf(`tell application "System Events" to keystroke %q`, escapeAppleScript(text))
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript failed: %w: %s (accessibility permission granted?)",
			err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(text)
}
