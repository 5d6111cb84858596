package notify

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/charmbracelet/log"
)

type Notifier interface {
	SessionChanged(streaming bool)
	Degraded(msg string)
	Error(msg string)
}

// New picks a notifier by config type ("desktop", "log", "none").
func New(enabled bool, kind string) Notifier {
	if !enabled {
		return Nop{}
	}
	switch kind {
	case "desktop":
		return Desktop{}
	case "log":
		return Log{}
	default:
		return Nop{}
	}
}

type Desktop struct{}

func (Desktop) SessionChanged(streaming bool) {
	state := "stopped"
	if streaming {
		state = "listening"
	}
	send(fmt.Sprintf("speechtext: %s", state), false)
}

func (Desktop) Degraded(msg string) {
	send("speechtext: "+msg, false)
}

func (Desktop) Error(msg string) {
	send(msg, true)
}

func send(msg string, critical bool) {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(`display notification %q with title "speechtext"`, msg)
		cmd = exec.Command("osascript", "-e", script)
	} else {
		args := []string{"-a", "speechtext"}
		if critical {
			args = append(args, "-u", "critical")
		}
		cmd = exec.Command("notify-send", append(args, msg)...)
	}
	if err := cmd.Run(); err != nil {
		log.Debug("notify: failed to send notification", "err", err)
	}
}

// Log writes notifications to the logger instead of the desktop.
type Log struct{}

func (Log) SessionChanged(streaming bool) {
	log.Info("notify: session changed", "streaming", streaming)
}

func (Log) Degraded(msg string) {
	log.Warn("notify: " + msg)
}

func (Log) Error(msg string) {
	log.Error("notify: " + msg)
}

// Nop is a Notifier that does absolutely nothing.
// Useful in unit tests or headless builds.
type Nop struct{}

func (Nop) SessionChanged(streaming bool) {}
func (Nop) Degraded(msg string)           {}
func (Nop) Error(msg string)              {}
