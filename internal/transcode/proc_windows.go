//go:build windows

package transcode

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// Windows has no graceful signal for console-less children; closing stdin
// is the graceful phase there.
func terminate(*os.Process) error { return nil }

func kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
