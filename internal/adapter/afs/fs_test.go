package afs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/Strob0t/agentmode/internal/adapter/afs"
	"github.com/Strob0t/agentmode/internal/port/workspace"
)

func newFS(t *testing.T) *afs.FileSystem {
	t.Helper()
	base := afero.NewMemMapFs()
	if err := afero.WriteFile(base, "/proj/go.mod", []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(base, "/proj/cmd/main.go", []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return afs.New(base, "/proj")
}

func TestReadWrite(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	got, err := fs.ReadFile(ctx, "go.mod")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "module x\n" {
		t.Errorf("content = %q", got)
	}

	if err := fs.WriteFile(ctx, "internal/app/app.go", "package app\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	st, err := fs.Stat(ctx, "internal/app/app.go")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.IsDir || st.Size != int64(len("package app\n")) {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestNotFound(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	if _, err := fs.ReadFile(ctx, "missing.txt"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("ReadFile: expected ErrNotFound, got %v", err)
	}
	if _, err := fs.Stat(ctx, "missing.txt"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("Stat: expected ErrNotFound, got %v", err)
	}
	if err := fs.Remove(ctx, "missing.txt"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("Remove: expected ErrNotFound, got %v", err)
	}
}

func TestOutsideRoot(t *testing.T) {
	fs := newFS(t)
	for _, p := range []string{"../etc/passwd", "a/../../b", ".."} {
		if _, err := fs.ReadFile(context.Background(), p); !errors.Is(err, workspace.ErrOutsideRoot) {
			t.Errorf("%s: expected ErrOutsideRoot, got %v", p, err)
		}
	}
}

func TestListDirectoryAndRemove(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	entries, err := fs.ListDirectory(ctx, "")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "cmd" || !entries[0].IsDir || entries[1].Name != "go.mod" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	if err := fs.Remove(ctx, "cmd"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := fs.ReadFile(ctx, "cmd/main.go"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("expected removed tree, got %v", err)
	}
	if err := fs.Remove(ctx, "."); !errors.Is(err, workspace.ErrPermission) {
		t.Errorf("removing the root must be refused, got %v", err)
	}
}

func TestMkdirAllAndWindowsSeparators(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	if err := fs.MkdirAll(ctx, `pkg\util`); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	st, err := fs.Stat(ctx, "pkg/util")
	if err != nil || !st.IsDir {
		t.Fatalf("expected directory, got %+v %v", st, err)
	}
}
