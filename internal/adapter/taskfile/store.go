// Package taskfile persists task and chunk state as one JSON document per
// task under the workspace state directory.
package taskfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/port/taskstate"
)

const ext = ".json"

// Store implements taskstate.Store on an afero filesystem.
type Store struct {
	fs  afero.Fs
	dir string
}

// New stores records in dir of fsys.
func New(fsys afero.Fs, dir string) *Store {
	return &Store{fs: fsys, dir: dir}
}

func (s *Store) file(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || strings.Contains(taskID, "..") {
		return "", fmt.Errorf("task id %q: %w", taskID, domain.ErrValidation)
	}
	return path.Join(s.dir, taskID+ext), nil
}

// Save writes rec, replacing any previous record for the task.
func (s *Store) Save(_ context.Context, rec *taskstate.Record) error {
	name, err := s.file(rec.TaskID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task state %s: %w", rec.TaskID, err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := name + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task state %s: %w", rec.TaskID, err)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		return fmt.Errorf("commit task state %s: %w", rec.TaskID, err)
	}
	return nil
}

// Load reads the record for taskID.
func (s *Store) Load(_ context.Context, taskID string) (*taskstate.Record, error) {
	name, err := s.file(taskID)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("task state %s: %w", taskID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read task state %s: %w", taskID, err)
	}
	var rec taskstate.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode task state %s: %w", taskID, err)
	}
	return &rec, nil
}

// Delete removes the record for taskID. Deleting a missing record is not an error.
func (s *Store) Delete(_ context.Context, taskID string) error {
	name, err := s.file(taskID)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete task state %s: %w", taskID, err)
	}
	return nil
}

// List returns the ids of all stored records in lexical order.
func (s *Store) List(_ context.Context) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list task state: %w", err)
	}
	var ids []string
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(fi.Name(), ext))
	}
	sort.Strings(ids)
	return ids, nil
}
