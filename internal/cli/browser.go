package cli

import (
	"os/exec"
	"runtime"
)

// browserCommand returns the command that opens url. browser names a
// specific application and may be empty.
func browserCommand(goos, browser, url string) (string, []string) {
	switch goos {
	case "darwin":
		if browser != "" {
			return "open", []string{"-a", browser, url}
		}
		return "open", []string{url}
	case "windows":
		if browser != "" {
			return "cmd", []string{"/c", "start", "", browser, url}
		}
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		if browser != "" {
			return browser, []string{url}
		}
		return "xdg-open", []string{url}
	}
}

func openBrowser(browser, url string) error {
	name, args := browserCommand(runtime.GOOS, browser, url)
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
