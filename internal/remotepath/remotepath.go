// Package remotepath maps watcher-relative file paths to local absolute paths
// and to rsync remote destination specs.
package remotepath

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNoServer = errors.New("remote server is not configured")
	ErrNoDest   = errors.New("remote destination directory is not configured")
)

// Target is the remote side of a sync: a host understood by ssh and a base
// directory on that host.
type Target struct {
	Server string
	Dest   string
}

func (t Target) Validate() error {
	if strings.TrimSpace(t.Server) == "" {
		return ErrNoServer
	}
	if strings.TrimSpace(t.Dest) == "" {
		return ErrNoDest
	}
	return nil
}

func (t Target) String() string {
	return t.Server + ":" + t.Dest
}

// Abs resolves rel against wd. The file does not have to exist.
func Abs(rel, wd string) string {
	native := filepath.FromSlash(rel)
	if filepath.IsAbs(native) {
		return filepath.Clean(native)
	}
	return filepath.Join(wd, native)
}

// Dir returns the directory of rel, "." for files at the watch root.
func Dir(rel string) string {
	return path.Dir(toSlash(rel))
}

// Compose builds "<server>:<dest>/<dir>/" with the path normalized. A dir of
// "." contributes nothing, so root-level files land in dest itself.
//
// Compose does not check the target; an empty server yields ":<path>".
func Compose(dir string, t Target) string {
	if dir == "." {
		dir = ""
	}

	p := path.Clean(t.Dest + "/" + toSlash(dir))
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}

	return t.Server + ":" + p
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
