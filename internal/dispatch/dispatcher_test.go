package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cloudy/internal/model"
	"cloudy/internal/remotepath"
	"cloudy/internal/rsync"

	"github.com/google/go-cmp/cmp"
)

const workDir = "/home/dev/app"

var target = remotepath.Target{Server: "deploy.example.com", Dest: "/var/www/app/"}

// fakeRunner records every command and, when gate is set, blocks each run
// until a value is received on gate.
type fakeRunner struct {
	mu    sync.Mutex
	cmds  []*rsync.Command
	fail  map[string]error
	gate  chan struct{}
	calls chan *rsync.Command
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		fail:  map[string]error{},
		calls: make(chan *rsync.Command, 100),
	}
}

func (f *fakeRunner) Run(ctx context.Context, c *rsync.Command) rsync.Result {
	f.mu.Lock()
	f.cmds = append(f.cmds, c)
	err := f.fail[c.Source]
	f.mu.Unlock()

	f.calls <- c

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return rsync.Result{ExitCode: -1, Err: ctx.Err()}
		}
	}

	if err != nil {
		return rsync.Result{ExitCode: 255, Err: err}
	}
	return rsync.Result{}
}

func (f *fakeRunner) commands() []*rsync.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*rsync.Command(nil), f.cmds...)
}

type outcomes struct {
	mu  sync.Mutex
	all []model.TransferOutcome
}

func (o *outcomes) Record(outcome model.TransferOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, outcome)
}

func (o *outcomes) list() []model.TransferOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.TransferOutcome(nil), o.all...)
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestBuild(t *testing.T) {
	d := New(Options{Target: target, WorkDir: workDir})

	tests := []struct {
		name string
		rel  string
		kind model.EventKind
		args []string
	}{
		{
			name: "nested file",
			rel:  "src/index.js",
			kind: model.EventModified,
			args: []string{"-av", "--rsh=ssh", "/home/dev/app/src/index.js", "deploy.example.com:/var/www/app/src/"},
		},
		{
			name: "root file",
			rel:  "readme.md",
			kind: model.EventModified,
			args: []string{"-av", "--rsh=ssh", "/home/dev/app/readme.md", "deploy.example.com:/var/www/app/"},
		},
		{
			name: "removed without propagation",
			rel:  "src/old.js",
			kind: model.EventRemoved,
			args: []string{"-av", "--rsh=ssh", "/home/dev/app/src/old.js", "deploy.example.com:/var/www/app/src/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.args, d.Build(tt.rel, tt.kind).Args()); diff != "" {
				t.Errorf("Build(%q) mismatch (-want +got):\n%s", tt.rel, diff)
			}
		})
	}
}

func TestBuildPropagateDeletions(t *testing.T) {
	d := New(Options{Target: target, WorkDir: workDir, PropagateDeletions: true})

	tests := []struct {
		name string
		rel  string
		args []string
	}{
		{
			name: "nested file",
			rel:  "src/old.js",
			args: []string{"-av", "--rsh=ssh", "--no-recursive", "--dirs", "--delete", "--include=/old.js", "--exclude=*",
				"/home/dev/app/src/", "deploy.example.com:/var/www/app/src/"},
		},
		{
			name: "root file",
			rel:  "gone.txt",
			args: []string{"-av", "--rsh=ssh", "--no-recursive", "--dirs", "--delete", "--include=/gone.txt", "--exclude=*",
				"/home/dev/app/", "deploy.example.com:/var/www/app/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.args, d.Build(tt.rel, model.EventRemoved).Args()); diff != "" {
				t.Errorf("Build(%q) mismatch (-want +got):\n%s", tt.rel, diff)
			}
		})
	}

	mod := d.Build("src/a.js", model.EventModified)
	if mod.Delete || mod.Only != "" {
		t.Errorf("modified events never prune: %s", mod)
	}
}

func TestDispatchSuccess(t *testing.T) {
	runner := newFakeRunner()
	var console bytes.Buffer
	rec := &outcomes{}

	d := New(Options{Target: target, WorkDir: workDir, Runner: runner, Console: &console, Recorder: rec})
	d.Dispatch("src/index.js", model.EventModified)
	waitIdle(t, d)

	cmds := runner.commands()
	if len(cmds) != 1 {
		t.Fatalf("got %d commands, want 1", len(cmds))
	}
	if cmds[0].Source != "/home/dev/app/src/index.js" || cmds[0].Destination != "deploy.example.com:/var/www/app/src/" {
		t.Errorf("unexpected command %s", cmds[0])
	}

	out := console.String()
	cmdline := cmds[0].String()
	if strings.Count(out, cmdline) != 2 {
		t.Errorf("console should echo the command before and after the run:\n%s", out)
	}
	if !strings.Contains(out, "Cloudy synced: src/index.js updated") {
		t.Errorf("missing status line:\n%s", out)
	}

	got := rec.list()
	if len(got) != 1 || !got[0].Succeeded() || got[0].ID == "" || got[0].CommandLine != cmdline {
		t.Errorf("unexpected outcomes %+v", got)
	}
}

func TestDispatchFailureDoesNotStopLaterEvents(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["/home/dev/app/bad.txt"] = errors.New("ssh: Could not resolve hostname")

	var console bytes.Buffer
	rec := &outcomes{}
	d := New(Options{Target: target, WorkDir: workDir, Runner: runner, Console: &console, Recorder: rec})

	d.Dispatch("bad.txt", model.EventModified)
	waitIdle(t, d)
	d.Dispatch("good.txt", model.EventModified)
	waitIdle(t, d)

	got := rec.list()
	if len(got) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(got))
	}
	if got[0].Succeeded() || got[0].ExitCode != 255 {
		t.Errorf("first outcome should fail: %+v", got[0])
	}
	if !got[1].Succeeded() {
		t.Errorf("second outcome should succeed: %+v", got[1])
	}

	out := console.String()
	if !strings.Contains(out, "Could not resolve hostname") {
		t.Errorf("error not printed:\n%s", out)
	}
	if strings.Contains(out, "Cloudy synced: bad.txt") {
		t.Errorf("failed transfer reported as synced:\n%s", out)
	}
}

func TestDispatchDeletedStatus(t *testing.T) {
	var console bytes.Buffer
	d := New(Options{Target: target, WorkDir: workDir, Runner: newFakeRunner(), Console: &console, PropagateDeletions: true})

	d.Dispatch("old.txt", model.EventRemoved)
	waitIdle(t, d)

	if !strings.Contains(console.String(), "Cloudy synced: old.txt deleted") {
		t.Errorf("missing deleted status:\n%s", console.String())
	}
}

func TestDispatchDoesNotBlock(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	d := New(Options{Target: target, WorkDir: workDir, Runner: runner, Mode: ModeConcurrent})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Dispatch("a.txt", model.EventModified)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on in-flight transfers")
	}

	close(runner.gate)
	waitIdle(t, d)
}

func TestConcurrentModeOverlap(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	rec := &outcomes{}
	d := New(Options{Target: target, WorkDir: workDir, Runner: runner, Mode: ModeConcurrent, Recorder: rec})

	d.Dispatch("a.txt", model.EventModified)
	d.Dispatch("a.txt", model.EventModified)

	for i := 0; i < 2; i++ {
		select {
		case <-runner.calls:
		case <-time.After(time.Second):
			t.Fatalf("transfer %d did not start while the other was in flight", i+1)
		}
	}
	if n := d.InFlight(); n != 2 {
		t.Errorf("InFlight() = %d, want 2", n)
	}

	close(runner.gate)
	waitIdle(t, d)

	if n := len(rec.list()); n != 2 {
		t.Errorf("got %d outcomes, want 2", n)
	}
}

func TestQueueModeSerializesAndCoalesces(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	rec := &outcomes{}
	d := New(Options{Target: target, WorkDir: workDir, Runner: runner, Mode: ModeQueue, Recorder: rec})

	d.Dispatch("a.txt", model.EventModified)
	<-runner.calls

	// Three more edits while the first transfer runs fold into one.
	d.Dispatch("a.txt", model.EventModified)
	d.Dispatch("a.txt", model.EventModified)
	d.Dispatch("a.txt", model.EventModified)

	// A different path is not held back.
	d.Dispatch("b.txt", model.EventModified)
	select {
	case c := <-runner.calls:
		if c.Source != "/home/dev/app/b.txt" {
			t.Fatalf("unexpected second start %s", c)
		}
	case <-time.After(time.Second):
		t.Fatal("b.txt was blocked by a.txt")
	}

	select {
	case c := <-runner.calls:
		t.Fatalf("follow-up started before the first transfer finished: %s", c)
	case <-time.After(50 * time.Millisecond):
	}

	runner.gate <- struct{}{}
	runner.gate <- struct{}{}

	select {
	case c := <-runner.calls:
		if c.Source != "/home/dev/app/a.txt" {
			t.Fatalf("unexpected follow-up %s", c)
		}
	case <-time.After(time.Second):
		t.Fatal("queued follow-up never started")
	}
	runner.gate <- struct{}{}

	waitIdle(t, d)

	if n := len(runner.commands()); n != 3 {
		t.Errorf("got %d transfers, want 3", n)
	}
	if n := len(rec.list()); n != 3 {
		t.Errorf("got %d outcomes, want 3", n)
	}
}

func TestQueueModeTwoEventsTwoTransfers(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	d := New(Options{Target: target, WorkDir: workDir, Runner: runner})

	d.Dispatch("a.txt", model.EventModified)
	d.Dispatch("a.txt", model.EventModified)

	close(runner.gate)
	waitIdle(t, d)

	if n := len(runner.commands()); n != 2 {
		t.Errorf("got %d transfers, want 2", n)
	}
}

func TestRunOnce(t *testing.T) {
	runner := newFakeRunner()
	rec := &outcomes{}
	d := New(Options{Target: target, WorkDir: workDir, Runner: runner, Recorder: rec})

	o := d.RunOnce(context.Background(), "lib/x.go", model.EventModified)
	if !o.Succeeded() || o.Destination != "deploy.example.com:/var/www/app/lib/" {
		t.Errorf("unexpected outcome %+v", o)
	}
	if len(rec.list()) != 1 {
		t.Error("RunOnce outcome not recorded")
	}
}

func TestCloseCancelsInFlight(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	rec := &outcomes{}
	d := New(Options{Target: target, WorkDir: workDir, Runner: runner, Recorder: rec})

	d.Dispatch("slow.bin", model.EventModified)
	<-runner.calls

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() = %v, want deadline exceeded", err)
	}

	waitIdle(t, d)
	got := rec.list()
	if len(got) != 1 || got[0].Succeeded() {
		t.Errorf("cancelled transfer should be recorded as failed: %+v", got)
	}

	d.Dispatch("late.txt", model.EventModified)
	if n := len(runner.commands()); n != 1 {
		t.Errorf("closed dispatcher started a transfer")
	}
}
