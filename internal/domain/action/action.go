// Package action defines the closed set of step actions an agent task can
// execute against a workspace, together with their typed parameter records.
package action

// Type identifies the kind of work a step performs.
type Type string

const (
	TypeReadFile        Type = "read_file"
	TypeWriteFile       Type = "write_file"
	TypeEditFile        Type = "edit_file"
	TypeDeleteFile      Type = "delete_file"
	TypeCreateDirectory Type = "create_directory"
	TypeRunCommand      Type = "run_command"
	TypeSearchCodebase  Type = "search_codebase"
	TypeAnalyzeCode     Type = "analyze_code"
	TypeRefactorCode    Type = "refactor_code"
	TypeGenerateCode    Type = "generate_code"
	TypeRunTests        Type = "run_tests"
	TypeGitCommit       Type = "git_commit"
	TypeReviewProject   Type = "review_project"
	TypeCustom          Type = "custom"
)

// Types lists every supported action type in declaration order.
var Types = []Type{
	TypeReadFile, TypeWriteFile, TypeEditFile, TypeDeleteFile, TypeCreateDirectory,
	TypeRunCommand, TypeSearchCodebase, TypeAnalyzeCode, TypeRefactorCode,
	TypeGenerateCode, TypeRunTests, TypeGitCommit, TypeReviewProject, TypeCustom,
}

// IsValid reports whether t belongs to the closed enumeration.
func (t Type) IsValid() bool {
	_, ok := factories[t]
	return ok
}

// Family groups action types that belong together when a plan is split into chunks.
type Family string

const (
	FamilyFile       Family = "file"
	FamilyAnalysis   Family = "analysis"
	FamilyGeneration Family = "generation"
	FamilyExecution  Family = "execution"
	FamilyGit        Family = "git"
	FamilyOther      Family = "other"
)

// FamilyOf returns the cohesive family of an action type.
func FamilyOf(t Type) Family {
	switch t {
	case TypeReadFile, TypeWriteFile, TypeEditFile, TypeDeleteFile, TypeCreateDirectory:
		return FamilyFile
	case TypeSearchCodebase, TypeAnalyzeCode, TypeReviewProject:
		return FamilyAnalysis
	case TypeGenerateCode, TypeRefactorCode:
		return FamilyGeneration
	case TypeRunCommand, TypeRunTests:
		return FamilyExecution
	case TypeGitCommit:
		return FamilyGit
	default:
		return FamilyOther
	}
}

// IsDestructive reports whether the action type modifies or removes existing
// workspace state and therefore always requires user approval.
func IsDestructive(t Type) bool {
	switch t {
	case TypeDeleteFile, TypeWriteFile, TypeGitCommit:
		return true
	}
	return false
}

// IsUncertain reports whether the action's outcome depends heavily on model output.
func IsUncertain(t Type) bool {
	return t == TypeGenerateCode || t == TypeRefactorCode
}

// IsBoundary reports whether the action naturally closes a unit of work.
func IsBoundary(t Type) bool {
	return t == TypeRunTests || t == TypeGitCommit
}
