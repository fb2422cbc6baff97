package autostart

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"runtime"
	"strings"
)

type AutoStarter interface {
	Install(execPath string) error
	Uninstall() error
	IsInstalled() (bool, error)
}

// New returns the login hook for the current platform. One entry is kept per
// watched directory so several projects can be mirrored side by side.
func New(workDir string) AutoStarter {
	name := ServiceName(workDir)

	switch runtime.GOOS {
	case "windows":
		return &WindowsAutoStarter{WorkDir: workDir, TaskName: name}
	case "linux":
		return &LinuxAutoStarter{WorkDir: workDir, Unit: name + ".service"}
	default:
		return &UnsupportedAutoStarter{}
	}
}

// ServiceName derives a stable identifier from the directory's base name and
// a short hash of its absolute path.
func ServiceName(workDir string) string {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		abs = workDir
	}

	sum := sha256.Sum256([]byte(abs))
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, filepath.Base(abs))

	return "cloudy-" + base + "-" + hex.EncodeToString(sum[:4])
}

type UnsupportedAutoStarter struct{}

func (u *UnsupportedAutoStarter) Install(_ string) error {
	return nil
}

func (u *UnsupportedAutoStarter) Uninstall() error {
	return nil
}

func (u *UnsupportedAutoStarter) IsInstalled() (bool, error) {
	return false, nil
}
