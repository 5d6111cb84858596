// Package deps inspects the host for the external tools the injection and
// notification backends shell out to. Nothing here is fatal: missing tools
// degrade features, and the doctor command reports what would degrade.
package deps

import (
	"os"
	"os/exec"
	"runtime"
)

// Status represents the installation status of one external tool.
type Status struct {
	Installed bool
	Path      string
}

// Check pairs a tool with why speechtext wants it.
type Check struct {
	Name     string
	Purpose  string
	Required bool // at least one Required tool per concern must exist
	Status   Status
}

func checkTool(name string) Status {
	path, err := exec.LookPath(name)
	if err != nil {
		return Status{Installed: false}
	}
	return Status{Installed: true, Path: path}
}

// CheckAll probes every tool the current platform's backends can use.
func CheckAll() []Check {
	var checks []Check

	if runtime.GOOS == "darwin" {
		checks = append(checks,
			Check{Name: "osascript", Purpose: "type into the focused element", Required: true, Status: checkTool("osascript")},
			Check{Name: "pbcopy", Purpose: "clipboard fallback", Status: checkTool("pbcopy")},
		)
	} else {
		checks = append(checks,
			Check{Name: "wtype", Purpose: "type into the focused element (Wayland)", Required: true, Status: checkTool("wtype")},
			Check{Name: "ydotool", Purpose: "type into the focused element (uinput)", Required: true, Status: checkTool("ydotool")},
			Check{Name: "wl-copy", Purpose: "clipboard fallback (Wayland)", Status: checkTool("wl-copy")},
			Check{Name: "xclip", Purpose: "clipboard fallback (X11)", Status: checkTool("xclip")},
			Check{Name: "notify-send", Purpose: "desktop notifications", Status: checkTool("notify-send")},
		)
	}

	return checks
}

// Credential reports whether credentials for the given provider are
// discoverable without starting a session.
func Credential(provider, credentialsFile, apiKey string) (string, bool) {
	switch provider {
	case "google":
		if credentialsFile != "" {
			_, err := os.Stat(credentialsFile)
			return credentialsFile, err == nil
		}
		if path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); path != "" {
			_, err := os.Stat(path)
			return path, err == nil
		}
		return "", false
	case "deepgram":
		if apiKey != "" {
			return "api key set", true
		}
		return "", os.Getenv("DEEPGRAM_API_KEY") != ""
	}
	return "", false
}

// CanInject reports whether any typing backend is available. When it is
// false every session runs degraded from the first final transcript.
func CanInject(checks []Check) bool {
	for _, c := range checks {
		if c.Required && c.Status.Installed {
			return true
		}
	}
	return false
}
