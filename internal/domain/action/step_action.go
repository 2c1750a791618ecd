package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownType is returned for action types outside the enumeration.
	ErrUnknownType = errors.New("unknown action type")
	// ErrInvalidParams is returned when parameters do not match the type's schema.
	ErrInvalidParams = errors.New("invalid action parameters")
)

// InvalidActionError describes a rejected action.
type InvalidActionError struct {
	Type   Type
	Reason string
	Err    error
}

func (e *InvalidActionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("action %q: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("action %q: %v: %s", e.Type, e.Err, e.Reason)
}

func (e *InvalidActionError) Unwrap() error { return e.Err }

var paramsValidate = validator.New()

// StepAction is the tagged union of a type and its typed parameters.
type StepAction struct {
	Type   Type
	Params Params
}

// New builds a StepAction from a typed parameter record and validates it.
func New(p Params) (StepAction, error) {
	if p == nil {
		return StepAction{}, &InvalidActionError{Err: ErrInvalidParams, Reason: "nil parameters"}
	}
	a := StepAction{Type: p.ActionType(), Params: p}
	if err := a.Validate(); err != nil {
		return StepAction{}, err
	}
	return a, nil
}

// MustNew is like New but panics on invalid input. Intended for literals.
func MustNew(p Params) StepAction {
	a, err := New(p)
	if err != nil {
		panic(err)
	}
	return a
}

// Decode parses raw JSON parameters for the given type. Unknown types and
// parameters that fail schema validation return an *InvalidActionError.
func Decode(t Type, raw json.RawMessage) (StepAction, error) {
	factory, ok := factories[t]
	if !ok {
		return StepAction{}, &InvalidActionError{Type: t, Err: ErrUnknownType}
	}
	p := factory()
	if len(raw) > 0 && string(raw) != "null" {
		normalized, err := normalizeKeys(t, raw)
		if err != nil {
			return StepAction{}, &InvalidActionError{Type: t, Err: ErrInvalidParams, Reason: err.Error()}
		}
		if err := json.Unmarshal(normalized, p); err != nil {
			return StepAction{}, &InvalidActionError{Type: t, Err: ErrInvalidParams, Reason: err.Error()}
		}
	}
	a := StepAction{Type: t, Params: deref(p)}
	if err := a.Validate(); err != nil {
		return StepAction{}, err
	}
	return a, nil
}

// Validate checks the tag and parameter schema.
func (a StepAction) Validate() error {
	if !a.Type.IsValid() {
		return &InvalidActionError{Type: a.Type, Err: ErrUnknownType}
	}
	if a.Params == nil {
		return &InvalidActionError{Type: a.Type, Err: ErrInvalidParams, Reason: "missing parameters"}
	}
	if a.Params.ActionType() != a.Type {
		return &InvalidActionError{
			Type:   a.Type,
			Err:    ErrInvalidParams,
			Reason: fmt.Sprintf("parameters belong to %q", a.Params.ActionType()),
		}
	}
	if err := paramsValidate.Struct(a.Params); err != nil {
		return &InvalidActionError{Type: a.Type, Err: ErrInvalidParams, Reason: err.Error()}
	}
	return nil
}

type wireAction struct {
	Type       Type            `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON encodes the action as {"type": ..., "parameters": {...}}.
func (a StepAction) MarshalJSON() ([]byte, error) {
	params, err := json.Marshal(a.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s parameters: %w", a.Type, err)
	}
	return json.Marshal(wireAction{Type: a.Type, Parameters: params})
}

// UnmarshalJSON accepts both "parameters" and "params" as the payload key.
func (a *StepAction) UnmarshalJSON(data []byte) error {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	raw := w.Parameters
	if len(raw) == 0 {
		raw = w.Params
	}
	decoded, err := Decode(w.Type, raw)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// Target returns the primary workspace path the action touches, if any.
func (a StepAction) Target() string {
	switch p := a.Params.(type) {
	case ReadFile:
		return p.Path
	case WriteFile:
		return p.Path
	case EditFile:
		return p.Path
	case DeleteFile:
		return p.Path
	case CreateDirectory:
		return p.Path
	case AnalyzeCode:
		return p.Path
	case RefactorCode:
		return p.Path
	case GenerateCode:
		return p.TargetPath
	}
	return ""
}

// Command returns the shell command for execution actions.
func (a StepAction) Command() string {
	switch p := a.Params.(type) {
	case RunCommand:
		return p.Command
	case RunTests:
		return p.Command
	}
	return ""
}

// Summary renders a short human-readable description of the action.
func (a StepAction) Summary() string {
	switch p := a.Params.(type) {
	case RunCommand:
		return fmt.Sprintf("%s %q", a.Type, p.Command)
	case SearchCodebase:
		return fmt.Sprintf("%s %q", a.Type, p.Query)
	case GitCommit:
		return fmt.Sprintf("%s %q", a.Type, p.Message)
	case Custom:
		return fmt.Sprintf("%s: %s", a.Type, p.Instruction)
	}
	if t := a.Target(); t != "" {
		return fmt.Sprintf("%s %s", a.Type, t)
	}
	return string(a.Type)
}

// dangerousTerms are command fragments that force approval of run_command steps.
var dangerousTerms = []string{"rm", "del", "format", "shutdown", "reboot"}

// IsDangerousCommand reports whether a shell command contains any of the
// deny-listed substrings. Matching is case-insensitive and deliberately broad.
func IsDangerousCommand(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, term := range dangerousTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// RequiresApproval reports whether the action must be approved before running.
func (a StepAction) RequiresApproval() bool {
	if IsDestructive(a.Type) {
		return true
	}
	return a.Type == TypeRunCommand && IsDangerousCommand(a.Command())
}

// BaseName returns the last element of the action's target path.
func (a StepAction) BaseName() string {
	t := a.Target()
	if t == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(t, "\\", "/"))
}

func normalizeKeys(t Type, raw json.RawMessage) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	changed := false
	for k, v := range m {
		canon, ok := typeAliases[t][k]
		if !ok {
			canon, ok = paramAliases[k]
		}
		if !ok {
			continue
		}
		if _, exists := m[canon]; !exists {
			m[canon] = v
		}
		delete(m, k)
		changed = true
	}
	if !changed {
		return raw, nil
	}
	return json.Marshal(m)
}

func deref(p Params) Params {
	switch v := p.(type) {
	case *ReadFile:
		return *v
	case *WriteFile:
		return *v
	case *EditFile:
		return *v
	case *DeleteFile:
		return *v
	case *CreateDirectory:
		return *v
	case *RunCommand:
		return *v
	case *SearchCodebase:
		return *v
	case *AnalyzeCode:
		return *v
	case *RefactorCode:
		return *v
	case *GenerateCode:
		return *v
	case *RunTests:
		return *v
	case *GitCommit:
		return *v
	case *ReviewProject:
		return *v
	case *Custom:
		return *v
	}
	return p
}
