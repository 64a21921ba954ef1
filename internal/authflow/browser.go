package authflow

import (
	"fmt"
	"os/exec"
	"runtime"
)

// openBrowser opens the default browser at url. Best effort: the login URL is
// also surfaced through the prompter, so a failure here is not fatal.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("no browser launcher for %s", runtime.GOOS)
	}

	return cmd.Start()
}
