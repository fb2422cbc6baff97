package rsync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCommandArgs(t *testing.T) {
	c := New().
		WithSource("/home/dev/app/src/index.js").
		WithDestination("deploy.example.com:/var/www/app/src/")

	want := []string{"-av", "--rsh=ssh", "/home/dev/app/src/index.js", "deploy.example.com:/var/www/app/src/"}
	if diff := cmp.Diff(want, c.Args()); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}

	if got, want := c.String(), "rsync -av --rsh=ssh /home/dev/app/src/index.js deploy.example.com:/var/www/app/src/"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCommandDelete(t *testing.T) {
	c := New().WithSource("/a/").WithDestination("h:/b/").WithDelete(true)

	want := []string{"-av", "--rsh=ssh", "--delete", "/a/", "h:/b/"}
	if diff := cmp.Diff(want, c.Args()); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}
}

func TestCommandOnly(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "old.js", want: "--include=/old.js"},
		{name: "a]b.txt", want: "--include=/a]b.txt"},
		{name: "draft[1].md", want: `--include=/draft\[1].md`},
		{name: "what?*.txt", want: `--include=/what\?\*.txt`},
	}

	for _, tt := range tests {
		c := New().WithSource("/a/").WithDestination("h:/b/").WithDelete(true).WithOnly(tt.name)

		want := []string{"-av", "--rsh=ssh", "--no-recursive", "--dirs", "--delete", tt.want, "--exclude=*", "/a/", "h:/b/"}
		if diff := cmp.Diff(want, c.Args()); diff != "" {
			t.Errorf("Args(%q) mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestCommandQuoting(t *testing.T) {
	c := New().
		WithFlags("-avz").
		WithShell("ssh -p 2222").
		WithSource("/tmp/my file.txt").
		WithDestination("h:/d/")

	want := `rsync -avz '--rsh=ssh -p 2222' '/tmp/my file.txt' h:/d/`
	if got := c.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCommandValidate(t *testing.T) {
	if err := New().WithDestination("h:/").Validate(); err == nil {
		t.Error("expected error for missing source")
	}
	if err := New().WithSource("/x").Validate(); err == nil {
		t.Error("expected error for missing destination")
	}
}

type stubRunner struct {
	res Result
}

func (s stubRunner) Run(context.Context, *Command) Result {
	return s.res
}

func TestExecuteCallsBackOnce(t *testing.T) {
	boom := errors.New("connection refused")
	c := New().WithSource("/x").WithDestination("h:/y/")

	type call struct {
		err     error
		code    int
		cmdline string
	}
	calls := make(chan call, 2)

	c.Execute(context.Background(), stubRunner{res: Result{ExitCode: 255, Err: boom}}, func(err error, code int, cmdline string) {
		calls <- call{err, code, cmdline}
	})

	select {
	case got := <-calls:
		if !errors.Is(got.err, boom) || got.code != 255 || got.cmdline != c.String() {
			t.Errorf("unexpected callback %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}

	select {
	case extra := <-calls:
		t.Fatalf("callback invoked twice: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	c := New().
		WithBinary("cloudy-no-such-rsync-binary").
		WithSource("/x").
		WithDestination("h:/y/")

	res := ExecRunner{}.Run(context.Background(), c)
	if res.Err == nil {
		t.Fatal("expected error for missing binary")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
}

func TestExecRunnerExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a posix shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	// sh -c "exit 3" stands in for an rsync that fails.
	c := New().WithBinary(sh).WithShell("").WithFlags("c").WithSource("exit 3").WithDestination("ignored")
	res := ExecRunner{}.Run(context.Background(), c)
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3 (err %v)", res.ExitCode, res.Err)
	}
}

func TestExecRunnerOnlyRemovesOneName(t *testing.T) {
	bin, err := exec.LookPath("rsync")
	if err != nil {
		t.Skip("rsync not available")
	}

	src, dst := t.TempDir(), t.TempDir()
	write := func(dir, name string) {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(src, "local-only.txt")
	write(src, "node_modules/dep/index.js")
	write(dst, "gone.txt")
	write(dst, "server.env")
	write(dst, "uploads/a.png")

	c := New().WithBinary(bin).WithShell("").
		WithSource(src + "/").WithDestination(dst + "/").
		WithDelete(true).WithOnly("gone.txt")

	res := ExecRunner{}.Run(context.Background(), c)
	if res.Err != nil {
		t.Fatalf("rsync failed: %v\n%s", res.Err, res.Output)
	}

	for name, want := range map[string]bool{
		"gone.txt":       false,
		"server.env":     true,
		"uploads/a.png":  true,
		"local-only.txt": false,
		"node_modules":   false,
	} {
		_, err := os.Stat(filepath.Join(dst, filepath.FromSlash(name)))
		if got := err == nil; got != want {
			t.Errorf("%s exists = %v, want %v", name, got, want)
		}
	}
}
