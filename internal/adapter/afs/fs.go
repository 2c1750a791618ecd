// Package afs implements the workspace file-system port on top of afero, so
// the engine can run against the real disk or an in-memory tree.
package afs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/Strob0t/agentmode/internal/port/workspace"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// FileSystem is a workspace.FileSystem rooted at a directory of an afero.Fs.
type FileSystem struct {
	fs afero.Fs
}

// New roots base at root. Use NewOS for the real disk.
func New(base afero.Fs, root string) *FileSystem {
	if root == "" || root == "." || root == "/" {
		return &FileSystem{fs: base}
	}
	return &FileSystem{fs: afero.NewBasePathFs(base, root)}
}

// NewOS returns a FileSystem over the operating system's disk at root.
func NewOS(root string) *FileSystem {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return New(afero.NewOsFs(), abs)
}

// Fs exposes the rooted afero filesystem for other adapters.
func (f *FileSystem) Fs() afero.Fs { return f.fs }

// ReadFile implements workspace.FileSystem.
func (f *FileSystem) ReadFile(_ context.Context, p string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(f.fs, clean)
	if err != nil {
		return "", mapErr("read", p, err)
	}
	return string(data), nil
}

// WriteFile implements workspace.FileSystem. Parent directories are created.
func (f *FileSystem) WriteFile(_ context.Context, p, content string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	if dir := path.Dir(clean); dir != "." && dir != "/" {
		if err := f.fs.MkdirAll(dir, dirPerm); err != nil {
			return mapErr("mkdir", dir, err)
		}
	}
	if err := afero.WriteFile(f.fs, clean, []byte(content), filePerm); err != nil {
		return mapErr("write", p, err)
	}
	return nil
}

// ListDirectory implements workspace.FileSystem. Entries are sorted by name.
func (f *FileSystem) ListDirectory(_ context.Context, p string) ([]workspace.Entry, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(f.fs, clean)
	if err != nil {
		return nil, mapErr("list", p, err)
	}
	entries := make([]workspace.Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, workspace.Entry{
			Name:  info.Name(),
			Path:  path.Join(clean, info.Name()),
			IsDir: info.IsDir(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat implements workspace.FileSystem.
func (f *FileSystem) Stat(_ context.Context, p string) (workspace.FileStats, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return workspace.FileStats{}, err
	}
	info, err := f.fs.Stat(clean)
	if err != nil {
		return workspace.FileStats{}, mapErr("stat", p, err)
	}
	return workspace.FileStats{Size: info.Size(), IsDir: info.IsDir(), ModTime: info.ModTime()}, nil
}

// Remove implements workspace.FileSystem. Removing a missing path is an error.
func (f *FileSystem) Remove(_ context.Context, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	if clean == "." {
		return fmt.Errorf("remove workspace root: %w", workspace.ErrPermission)
	}
	if _, err := f.fs.Stat(clean); err != nil {
		return mapErr("remove", p, err)
	}
	if err := f.fs.RemoveAll(clean); err != nil {
		return mapErr("remove", p, err)
	}
	return nil
}

// MkdirAll implements workspace.FileSystem.
func (f *FileSystem) MkdirAll(_ context.Context, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(clean, dirPerm); err != nil {
		return mapErr("mkdir", p, err)
	}
	return nil
}

// cleanPath normalizes a workspace-relative path and rejects escapes.
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ".", nil
	}
	clean := path.Clean(strings.TrimPrefix(p, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%s: %w", p, workspace.ErrOutsideRoot)
	}
	return clean, nil
}

func mapErr(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, p, workspace.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s: %w", op, p, workspace.ErrPermission)
	default:
		return fmt.Errorf("%s %s: %w", op, p, err)
	}
}
