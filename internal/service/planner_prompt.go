package service

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/metacog"
	"github.com/Strob0t/agentmode/internal/domain/task"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// actionParamDocs documents the parameter record of each action type for the model.
var actionParamDocs = map[action.Type]string{
	action.TypeReadFile:        `{"path"}`,
	action.TypeWriteFile:       `{"path", "content"}`,
	action.TypeEditFile:        `{"path", "find", "replace"}`,
	action.TypeDeleteFile:      `{"path"}`,
	action.TypeCreateDirectory: `{"path"}`,
	action.TypeRunCommand:      `{"command", "cwd"?}`,
	action.TypeSearchCodebase:  `{"query", "filePattern"?}`,
	action.TypeAnalyzeCode:     `{"path", "focus"?}`,
	action.TypeRefactorCode:    `{"path", "instructions"}`,
	action.TypeGenerateCode:    `{"description", "targetPath"?, "language"?}`,
	action.TypeRunTests:        `{"command"?, "pattern"?}`,
	action.TypeGitCommit:       `{"message", "files"?}`,
	action.TypeReviewProject:   `{"scope"?}`,
	action.TypeCustom:          `{"instruction"}`,
}

type actionDoc struct {
	Type   action.Type
	Params string
}

func actionDocs() []actionDoc {
	docs := make([]actionDoc, 0, len(action.Types))
	for _, t := range action.Types {
		docs = append(docs, actionDoc{Type: t, Params: actionParamDocs[t]})
	}
	return docs
}

func actionTypeList() string {
	names := make([]string, len(action.Types))
	for i, t := range action.Types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// planPrompt builds the system and user prompts for a planning call.
func planPrompt(req PlanRequest, maxSteps int) (system, user string, err error) {
	system, err = render("plan_system.tmpl", struct {
		Actions          []actionDoc
		MaxSteps         int
		AllowDestructive bool
	}{actionDocs(), maxSteps, req.Options.AllowDestructiveActions})
	if err != nil {
		return "", "", err
	}
	var ws *WorkspaceContext
	if !req.Workspace.IsZero() {
		ws = &req.Workspace
	}
	user, err = render("plan_user.tmpl", struct {
		Request   string
		Workspace *WorkspaceContext
	}{req.Request, ws})
	return system, user, err
}

func selfCorrectPrompt(s *task.AgentStep, current action.StepAction, cause error) (string, error) {
	return render("self_correct.tmpl", map[string]any{
		"Title":      s.Title,
		"Goal":       s.ProblemDescription(),
		"Action":     current.Summary(),
		"Attempt":    s.RetryCount,
		"MaxRetries": s.MaxRetries,
		"Error":      errorText(cause),
		"Types":      actionTypeList(),
	})
}

func strategicHelpPrompt(s *task.AgentStep, current action.StepAction, sig metacog.Signature, attempts []metacog.Attempt) (string, error) {
	return render("strategic_help.tmpl", map[string]any{
		"Kind":     sig.Kind,
		"Detail":   sig.Detail,
		"Title":    s.Title,
		"Goal":     s.ProblemDescription(),
		"Action":   current.Summary(),
		"Attempts": attempts,
		"Types":    actionTypeList(),
	})
}

func stepWorkPrompt(instruction, target, content string) (string, error) {
	return render("step_work.tmpl", map[string]string{
		"Instruction": instruction,
		"Target":      target,
		"Content":     content,
	})
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
