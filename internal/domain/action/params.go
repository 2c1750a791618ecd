package action

// Params is implemented by every typed parameter record. The set of
// implementations is closed to this package.
type Params interface {
	ActionType() Type
}

type ReadFile struct {
	Path string `json:"path" validate:"required"`
}

type WriteFile struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

type EditFile struct {
	Path    string `json:"path" validate:"required"`
	Find    string `json:"find" validate:"required"`
	Replace string `json:"replace"`
}

type DeleteFile struct {
	Path string `json:"path" validate:"required"`
}

type CreateDirectory struct {
	Path string `json:"path" validate:"required"`
}

type RunCommand struct {
	Command string `json:"command" validate:"required"`
	Cwd     string `json:"cwd,omitempty"`
}

type SearchCodebase struct {
	Query       string `json:"query" validate:"required"`
	FilePattern string `json:"filePattern,omitempty"`
}

type AnalyzeCode struct {
	Path  string `json:"path" validate:"required"`
	Focus string `json:"focus,omitempty"`
}

type RefactorCode struct {
	Path         string `json:"path" validate:"required"`
	Instructions string `json:"instructions" validate:"required"`
}

type GenerateCode struct {
	Description string `json:"description" validate:"required"`
	TargetPath  string `json:"targetPath,omitempty"`
	Language    string `json:"language,omitempty"`
}

type RunTests struct {
	Command string `json:"command,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

type GitCommit struct {
	Message string   `json:"message" validate:"required"`
	Files   []string `json:"files,omitempty" validate:"omitempty,dive,required"`
}

type ReviewProject struct {
	Scope string `json:"scope,omitempty"`
}

// Custom carries free-form work that no typed action covers. Instruction is
// shown to the user when the step needs manual assistance.
type Custom struct {
	Instruction string         `json:"instruction" validate:"required"`
	Data        map[string]any `json:"data,omitempty"`
}

func (ReadFile) ActionType() Type        { return TypeReadFile }
func (WriteFile) ActionType() Type       { return TypeWriteFile }
func (EditFile) ActionType() Type        { return TypeEditFile }
func (DeleteFile) ActionType() Type      { return TypeDeleteFile }
func (CreateDirectory) ActionType() Type { return TypeCreateDirectory }
func (RunCommand) ActionType() Type      { return TypeRunCommand }
func (SearchCodebase) ActionType() Type  { return TypeSearchCodebase }
func (AnalyzeCode) ActionType() Type     { return TypeAnalyzeCode }
func (RefactorCode) ActionType() Type    { return TypeRefactorCode }
func (GenerateCode) ActionType() Type    { return TypeGenerateCode }
func (RunTests) ActionType() Type        { return TypeRunTests }
func (GitCommit) ActionType() Type       { return TypeGitCommit }
func (ReviewProject) ActionType() Type   { return TypeReviewProject }
func (Custom) ActionType() Type          { return TypeCustom }

// factories maps each action type to a constructor of its zero-valued record.
var factories = map[Type]func() Params{
	TypeReadFile:        func() Params { return &ReadFile{} },
	TypeWriteFile:       func() Params { return &WriteFile{} },
	TypeEditFile:        func() Params { return &EditFile{} },
	TypeDeleteFile:      func() Params { return &DeleteFile{} },
	TypeCreateDirectory: func() Params { return &CreateDirectory{} },
	TypeRunCommand:      func() Params { return &RunCommand{} },
	TypeSearchCodebase:  func() Params { return &SearchCodebase{} },
	TypeAnalyzeCode:     func() Params { return &AnalyzeCode{} },
	TypeRefactorCode:    func() Params { return &RefactorCode{} },
	TypeGenerateCode:    func() Params { return &GenerateCode{} },
	TypeRunTests:        func() Params { return &RunTests{} },
	TypeGitCommit:       func() Params { return &GitCommit{} },
	TypeReviewProject:   func() Params { return &ReviewProject{} },
	TypeCustom:          func() Params { return &Custom{} },
}

// paramAliases maps alternate parameter spellings seen in model output to
// the canonical JSON field names.
var paramAliases = map[string]string{
	"file":         "path",
	"filePath":     "path",
	"file_path":    "path",
	"filename":     "path",
	"directory":    "path",
	"dir":          "path",
	"cmd":          "command",
	"workingDir":   "cwd",
	"pattern_glob": "filePattern",
	"file_pattern": "filePattern",
	"target_path":  "targetPath",
	"targetFile":   "targetPath",
	"search":       "query",
	"old":          "find",
	"new":          "replace",
	"prompt":       "description",
}

// typeAliases take precedence over paramAliases for a single action type.
var typeAliases = map[Type]map[string]string{
	TypeCustom: {
		"description": "instruction",
		"message":     "instruction",
	},
	TypeRunTests: {
		"testPattern": "pattern",
		"filter":      "pattern",
	},
}
