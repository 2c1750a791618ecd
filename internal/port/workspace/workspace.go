// Package workspace defines the ports the execution engine uses to act on
// the user's workspace.
package workspace

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a missing file or directory.
	ErrNotFound = errors.New("workspace: not found")
	// ErrPermission indicates the operation is not permitted.
	ErrPermission = errors.New("workspace: permission denied")
	// ErrOutsideRoot indicates a path escaping the workspace root.
	ErrOutsideRoot = errors.New("workspace: path outside workspace root")
	// ErrUserActionRequired indicates a step that only the user can perform.
	ErrUserActionRequired = errors.New("workspace: user action required")
)

// Entry is one item of a directory listing.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
}

// FileStats describes a file.
type FileStats struct {
	Size    int64     `json:"size"`
	IsDir   bool      `json:"isDir"`
	ModTime time.Time `json:"modTime"`
}

// FileSystem is the workspace file service. Paths are relative to the
// workspace root.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	ListDirectory(ctx context.Context, path string) ([]Entry, error)
	Stat(ctx context.Context, path string) (FileStats, error)
	Remove(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string) error
}

// CommandResult is the outcome of a shell command.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Shell runs commands in the workspace. cwd is relative to the root; empty
// means the root itself.
type Shell interface {
	Run(ctx context.Context, command, cwd string) (CommandResult, error)
}

// ApprovalRequest describes a step waiting for the user's consent.
type ApprovalRequest struct {
	TaskID      string `json:"taskId"`
	StepID      string `json:"stepId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// Approver decides whether a step that requires approval may run.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// AssistanceRequest asks the user to perform work the agent could not.
type AssistanceRequest struct {
	TaskID      string `json:"taskId"`
	StepID      string `json:"stepId"`
	Instruction string `json:"instruction"`
	Context     string `json:"context,omitempty"`
}

// Assistant hands work to the user and reports whether it was done.
type Assistant interface {
	RequestAssistance(ctx context.Context, req AssistanceRequest) (string, error)
}
