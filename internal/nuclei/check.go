package nuclei

import (
	"bytes"
	"os/exec"
	"strings"
)

// CheckResult describes whether the nuclei binary is usable.
type CheckResult struct {
	Found   bool
	Path    string
	Version string
}

// InstallCmd is the recommended way to install nuclei when it is missing.
const InstallCmd = "go install -v github.com/projectdiscovery/nuclei/v3/cmd/nuclei@latest"

// Check verifies that the configured nuclei binary is available and reports
// its resolved path and version (best effort).
func Check(binary string) CheckResult {
	result := CheckResult{}

	path, err := exec.LookPath(binary)
	if err != nil {
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = getVersion(binary)

	return result
}

// getVersion attempts to get the version of the binary
func getVersion(binary string) string {
	// Try common version flags
	versionFlags := []string{"-version", "--version", "version"}

	for _, flag := range versionFlags {
		cmd := exec.Command(binary, flag)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err := cmd.Run()
		if err == nil && out.Len() > 0 {
			firstLine := strings.Split(out.String(), "\n")[0]
			version := strings.TrimSpace(firstLine)
			if len(version) > 50 {
				version = version[:50] + "..."
			}
			return version
		}
	}

	return "unknown"
}
