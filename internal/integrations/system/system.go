package system

import (
	"os/exec"
	"runtime"
)

func HasCommand(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// SuggestedBitwardenInstallCommand returns an install command for the
// Bitwarden CLI matching whatever package manager is available.
func SuggestedBitwardenInstallCommand() (string, bool) {
	return suggestedBitwardenInstallCommand(HasCommand, runtime.GOOS)
}

func suggestedBitwardenInstallCommand(has func(string) bool, goos string) (string, bool) {
	if has("brew") {
		return "brew install bitwarden-cli", true
	}
	if goos == "windows" {
		if has("winget") {
			return "winget install --id Bitwarden.CLI -e", true
		}
		return "", false
	}
	if has("snap") {
		return "sudo snap install bw", true
	}
	if has("npm") {
		return "npm install -g @bitwarden/cli", true
	}
	return "", false
}
