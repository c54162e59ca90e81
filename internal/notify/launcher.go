package notify

import (
	"fmt"
	"os/exec"
)

// ExecLauncher opens links by spawning the profile's launcher command.
type ExecLauncher struct{}

// Launch runs the launcher with its configured args and the entry link
// appended as the final argument. The child is not waited on.
func (ExecLauncher) Launch(launcher string, args []string, link string) error {
	if launcher == "" {
		return fmt.Errorf("no launcher configured")
	}
	cmd := exec.Command(launcher, append(append([]string{}, args...), link)...) //nolint:gosec // launcher comes from the operator's config
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start launcher: %w", err)
	}
	// Reap the child in the background so it never turns into a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}
