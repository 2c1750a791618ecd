package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Strob0t/agentmode/internal/config"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/port/ai"
	"github.com/Strob0t/agentmode/internal/port/workspace"
)

var (
	// ErrFindNotFound is returned by edit_file when the text to replace is absent.
	ErrFindNotFound = errors.New("text to replace not found")
	// ErrCommandFailed is returned when a command exits non-zero.
	ErrCommandFailed = errors.New("command failed")
	// ErrNoModel is returned for model-backed actions without a completer.
	ErrNoModel = errors.New("no language model configured")
)

const (
	maxSearchResults  = 50
	maxSearchVisits   = 5000
	maxSearchFileSize = 512 * 1024
	maxErrorOutput    = 500
)

// skipDirs are never descended into by search_codebase.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true, ".agentmode": true,
}

// ActionRunner executes step actions against the workspace.
type ActionRunner struct {
	fs          workspace.FileSystem
	shell       workspace.Shell
	ai          ai.Completer
	assistant   workspace.Assistant
	testCommand string
}

// NewActionRunner creates a runner. shell and completer may be nil; actions
// that need them then fail.
func NewActionRunner(fs workspace.FileSystem, shell workspace.Shell, completer ai.Completer, cfg config.Runtime) *ActionRunner {
	return &ActionRunner{fs: fs, shell: shell, ai: completer, testCommand: cfg.DefaultTestCommand}
}

// SetAssistant installs the user-assistance handler for custom actions.
func (r *ActionRunner) SetAssistant(a workspace.Assistant) { r.assistant = a }

// Execute performs a and returns its textual output.
func (r *ActionRunner) Execute(ctx context.Context, t *task.AgentTask, s *task.AgentStep, a action.StepAction) (string, error) {
	switch p := a.Params.(type) {
	case action.ReadFile:
		return r.fs.ReadFile(ctx, p.Path)
	case action.WriteFile:
		if err := r.fs.WriteFile(ctx, p.Path, p.Content); err != nil {
			return "", err
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path), nil
	case action.EditFile:
		return r.edit(ctx, p)
	case action.DeleteFile:
		if err := r.fs.Remove(ctx, p.Path); err != nil {
			return "", err
		}
		return "deleted " + p.Path, nil
	case action.CreateDirectory:
		if err := r.fs.MkdirAll(ctx, p.Path); err != nil {
			return "", err
		}
		return "created " + p.Path, nil
	case action.RunCommand:
		return r.run(ctx, p.Command, p.Cwd)
	case action.RunTests:
		cmd := firstNonEmpty(p.Command, r.testCommand)
		if cmd == "" {
			return "", fmt.Errorf("run tests: no test command configured: %w", ErrCommandFailed)
		}
		if p.Pattern != "" {
			cmd += " " + shellQuote(p.Pattern)
		}
		return r.run(ctx, cmd, "")
	case action.GitCommit:
		return r.commit(ctx, p)
	case action.SearchCodebase:
		return r.search(ctx, p)
	case action.AnalyzeCode:
		content, err := r.fs.ReadFile(ctx, p.Path)
		if err != nil {
			return "", err
		}
		instr := "Analyze this code and report problems and improvements."
		if p.Focus != "" {
			instr += " Focus on: " + p.Focus
		}
		return r.model(ctx, instr, p.Path, content)
	case action.RefactorCode:
		content, err := r.fs.ReadFile(ctx, p.Path)
		if err != nil {
			return "", err
		}
		out, err := r.model(ctx, "Refactor this file and return only the complete new file content. "+p.Instructions, p.Path, content)
		if err != nil {
			return "", err
		}
		if err := r.fs.WriteFile(ctx, p.Path, stripFence(out)); err != nil {
			return "", err
		}
		return "refactored " + p.Path, nil
	case action.GenerateCode:
		instr := "Generate code: " + p.Description
		if p.Language != "" {
			instr += " (language: " + p.Language + ")"
		}
		out, err := r.model(ctx, instr, p.TargetPath, "")
		if err != nil || p.TargetPath == "" {
			return out, err
		}
		if err := r.fs.WriteFile(ctx, p.TargetPath, stripFence(out)); err != nil {
			return "", err
		}
		return "generated " + p.TargetPath, nil
	case action.ReviewProject:
		entries, err := r.fs.ListDirectory(ctx, firstNonEmpty(p.Scope, "."))
		if err != nil {
			return "", err
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Path
		}
		return r.model(ctx, "Review this project and summarize its structure, risks and next steps.",
			p.Scope, strings.Join(names, "\n"))
	case action.Custom:
		if r.assistant == nil {
			return "", fmt.Errorf("%s: %w", p.Instruction, workspace.ErrUserActionRequired)
		}
		return r.assistant.RequestAssistance(ctx, workspace.AssistanceRequest{
			TaskID:      t.ID,
			StepID:      s.ID,
			Instruction: p.Instruction,
			Context:     s.Description,
		})
	default:
		return "", fmt.Errorf("execute %s: %w", a.Type, action.ErrUnknownType)
	}
}

func (r *ActionRunner) edit(ctx context.Context, p action.EditFile) (string, error) {
	content, err := r.fs.ReadFile(ctx, p.Path)
	if err != nil {
		return "", err
	}
	if !strings.Contains(content, p.Find) {
		return "", fmt.Errorf("edit %s: %w", p.Path, ErrFindNotFound)
	}
	if err := r.fs.WriteFile(ctx, p.Path, strings.Replace(content, p.Find, p.Replace, 1)); err != nil {
		return "", err
	}
	return "edited " + p.Path, nil
}

func (r *ActionRunner) run(ctx context.Context, command, cwd string) (string, error) {
	if r.shell == nil {
		return "", fmt.Errorf("run %q: no shell configured: %w", command, ErrCommandFailed)
	}
	res, err := r.shell.Run(ctx, command, cwd)
	if err != nil {
		return "", err
	}
	out := res.Stdout
	if res.Stderr != "" {
		out = strings.TrimRight(out, "\n") + "\n" + res.Stderr
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(firstNonEmpty(res.Stderr, res.Stdout))
		if len(detail) > maxErrorOutput {
			detail = detail[len(detail)-maxErrorOutput:]
		}
		return out, fmt.Errorf("%q exited with code %d: %s: %w", command, res.ExitCode, detail, ErrCommandFailed)
	}
	return out, nil
}

func (r *ActionRunner) commit(ctx context.Context, p action.GitCommit) (string, error) {
	add := "git add -A"
	if len(p.Files) > 0 {
		quoted := make([]string, len(p.Files))
		for i, f := range p.Files {
			quoted[i] = shellQuote(f)
		}
		add = "git add -- " + strings.Join(quoted, " ")
	}
	if out, err := r.run(ctx, add, ""); err != nil {
		return out, err
	}
	return r.run(ctx, "git commit -m "+shellQuote(p.Message), "")
}

// search walks the workspace for files whose name or content contains the
// query. It fails with workspace.ErrNotFound when nothing matches.
func (r *ActionRunner) search(ctx context.Context, p action.SearchCodebase) (string, error) {
	query := strings.ToLower(p.Query)
	var (
		hits   []string
		visits int
		queue  = []string{"."}
	)
	for len(queue) > 0 && len(hits) < maxSearchResults && visits < maxSearchVisits {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		dir := queue[0]
		queue = queue[1:]
		entries, err := r.fs.ListDirectory(ctx, dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			visits++
			if e.IsDir {
				if !skipDirs[e.Name] && !strings.HasPrefix(e.Name, ".") {
					queue = append(queue, e.Path)
				}
				continue
			}
			if p.FilePattern != "" {
				if ok, _ := path.Match(p.FilePattern, e.Name); !ok {
					continue
				}
			}
			if strings.Contains(strings.ToLower(e.Name), query) || r.contentMatches(ctx, e.Path, query) {
				hits = append(hits, e.Path)
				if len(hits) >= maxSearchResults {
					break
				}
			}
		}
	}
	if len(hits) == 0 {
		return "", fmt.Errorf("search %q: %w", p.Query, workspace.ErrNotFound)
	}
	sort.Strings(hits)
	return strings.Join(hits, "\n"), nil
}

func (r *ActionRunner) contentMatches(ctx context.Context, p, query string) bool {
	st, err := r.fs.Stat(ctx, p)
	if err != nil || st.Size > maxSearchFileSize {
		return false
	}
	content, err := r.fs.ReadFile(ctx, p)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(content), query)
}

func (r *ActionRunner) model(ctx context.Context, instruction, target, content string) (string, error) {
	if r.ai == nil {
		return "", ErrNoModel
	}
	prompt, err := stepWorkPrompt(instruction, target, content)
	if err != nil {
		return "", err
	}
	out, err := r.ai.Complete(ctx, ai.Request{Purpose: ai.PurposeStepWork, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("model step: %w", err)
	}
	return out, nil
}

// stripFence returns the body of the first fenced block in s, or s itself.
func stripFence(s string) string {
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
