package autostart

import (
	"fmt"
	"os/exec"
)

type WindowsAutoStarter struct {
	WorkDir  string
	TaskName string
}

func (w *WindowsAutoStarter) Install(execPath string) error {
	// schtasks has no working-directory option, so the task changes into it.
	action := fmt.Sprintf(`cmd /c cd /d "%s" && "%s" watch`, w.WorkDir, execPath)

	cmd := exec.Command("schtasks", "/create",
		"/TN", w.TaskName,
		"/TR", action,
		"/SC", "ONLOGON",
		"/F")

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to register task: %w\n%s", err, out)
	}

	return nil
}

func (w *WindowsAutoStarter) Uninstall() error {
	cmd := exec.Command("schtasks", "/DELETE", "/TN", w.TaskName, "/F")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to remove task: %w\n%s", err, out)
	}

	return nil
}

func (w *WindowsAutoStarter) IsInstalled() (bool, error) {
	cmd := exec.Command("schtasks", "/Query", "/TN", w.TaskName)
	if err := cmd.Run(); err != nil {
		return false, nil
	}

	return true, nil
}
