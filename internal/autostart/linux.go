package autostart

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const serviceTemplate = `[Unit]
Description=Cloudy mirror of {{.WorkDir}}
After=network-online.target

[Service]
WorkingDirectory={{.WorkDir}}
ExecStart={{.ExecPath}} watch
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

type LinuxAutoStarter struct {
	WorkDir string
	Unit    string

	// ConfigHome overrides ~/.config; used by tests.
	ConfigHome string
	// Systemctl runs systemctl with the given arguments. Defaults to exec.
	Systemctl func(args ...string) ([]byte, error)
}

func (l *LinuxAutoStarter) servicePath() (string, error) {
	base := l.ConfigHome
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}

	dir := filepath.Join(base, "systemd", "user")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(dir, l.Unit), nil
}

func (l *LinuxAutoStarter) systemctl(args ...string) ([]byte, error) {
	if l.Systemctl != nil {
		return l.Systemctl(args...)
	}
	return exec.Command("systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
}

func writeUnit(w io.Writer, execPath, workDir string) error {
	tmpl := template.Must(template.New("service").Parse(serviceTemplate))
	return tmpl.Execute(w, map[string]string{
		"ExecPath": execPath,
		"WorkDir":  workDir,
	})
}

func (l *LinuxAutoStarter) Install(execPath string) error {
	path, err := l.servicePath()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create service file: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if err := writeUnit(f, execPath, l.WorkDir); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}

	cmds := [][]string{
		{"daemon-reload"},
		{"enable", l.Unit},
		{"start", l.Unit},
	}

	for _, args := range cmds {
		if out, err := l.systemctl(args...); err != nil {
			return fmt.Errorf("failed to run systemctl %v: %w\n%s", args, err, out)
		}
	}

	return nil
}

func (l *LinuxAutoStarter) Uninstall() error {
	for _, args := range [][]string{{"stop", l.Unit}, {"disable", l.Unit}} {
		_, _ = l.systemctl(args...)
	}

	path, err := l.servicePath()
	if err != nil {
		return err
	}

	return os.Remove(path)
}

func (l *LinuxAutoStarter) IsInstalled() (bool, error) {
	path, err := l.servicePath()
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	return err == nil, nil
}
