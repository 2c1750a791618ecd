//go:build !windows

package shell_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/agentmode/internal/adapter/shell"
	"github.com/Strob0t/agentmode/internal/port/workspace"
)

func TestRun_Success(t *testing.T) {
	r := shell.New(t.TempDir(), time.Minute, 0)
	res, err := r.Run(context.Background(), "echo hello && echo oops 1>&2", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "hello" || strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r := shell.New(t.TempDir(), time.Minute, 0)
	res, err := r.Run(context.Background(), "exit 3", "")
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRun_Cwd(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := shell.New(root, time.Minute, 0)
	res, err := r.Run(context.Background(), "basename \"$PWD\"", "sub")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "sub" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if _, err := r.Run(context.Background(), "ls", "../.."); !errors.Is(err, workspace.ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}
}

func TestRun_TruncatesOutput(t *testing.T) {
	r := shell.New(t.TempDir(), time.Minute, 4)
	res, err := r.Run(context.Background(), "echo abcdefgh", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(res.Stdout, "abcd") || !strings.Contains(res.Stdout, "truncated") {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := shell.New(t.TempDir(), 50*time.Millisecond, 0)
	if _, err := r.Run(context.Background(), "sleep 5", ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRun_Empty(t *testing.T) {
	r := shell.New(t.TempDir(), 0, 0)
	if _, err := r.Run(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRun_WaitsForSharedSlot(t *testing.T) {
	slots := shell.NewSlots(1)
	r := shell.New(t.TempDir(), time.Minute, 0)
	r.SetSlots(slots)

	held, release := make(chan struct{}), make(chan struct{})
	go func() {
		_ = slots.Do(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Run(ctx, "echo blocked", ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded while the slot is held", err)
	}

	close(release)
	res, err := r.Run(context.Background(), "echo free", "")
	if err != nil || strings.TrimSpace(res.Stdout) != "free" {
		t.Errorf("after release: %+v, %v", res, err)
	}
}
