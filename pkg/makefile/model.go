package makefile

import (
	"fmt"
	"strings"
)

// Flavor selects the assignment operator of a variable definition.
type Flavor int

const (
	Recursive Flavor = iota
	Immediate
	Conditional
	Shell
	Append
)

var flavorNames = map[string]Flavor{
	"recursive":           Recursive,
	"immediate":           Immediate,
	"conditional":         Conditional,
	"conditional-default": Conditional,
	"shell":               Shell,
	"shell-capture":       Shell,
	"append":              Append,
}

// ParseFlavor maps a flavor name (as used by scripts) to its Flavor.
func ParseFlavor(name string) (Flavor, error) {
	flavor, ok := flavorNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown variable flavor %q", name)
	}
	return flavor, nil
}

// Operator returns the make assignment operator for f.
func (f Flavor) Operator() string {
	switch f {
	case Immediate:
		return ":="
	case Conditional:
		return "?="
	case Shell:
		return "!="
	case Append:
		return "+="
	default:
		return "="
	}
}

func (f Flavor) String() string {
	switch f {
	case Recursive:
		return "recursive"
	case Immediate:
		return "immediate"
	case Conditional:
		return "conditional"
	case Shell:
		return "shell"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("Flavor(%d)", int(f))
	}
}

// Statement is one renderable unit of a build file.
type Statement interface {
	statement()
}

// BuildFile is an ordered list of statements. The order decides the default goal and is
// never changed.
type BuildFile []Statement

// Comment renders every line of Text prefixed with "#".
type Comment struct {
	Text string
}

// Blank renders a single empty line.
type Blank struct{}

// VariableDef assigns Value to Name. Value is optional; Targets turns the definition into a
// target-specific variable.
type VariableDef struct {
	Name    string
	Value   *string
	Flavor  Flavor
	Targets []string
}

// DirectiveKind distinguishes include from -include.
type DirectiveKind int

const (
	Include DirectiveKind = iota
	SilentInclude
)

// Keyword returns the make keyword for the directive.
func (k DirectiveKind) Keyword() string {
	if k == SilentInclude {
		return "-include"
	}
	return "include"
}

// Directive is an include or -include line.
type Directive struct {
	Kind  DirectiveKind
	Files []string
}

// ExplicitRule is a rule for literal targets.
type ExplicitRule struct {
	Targets       []string
	Prerequisites []string
	Recipe        []string
}

// PatternRule is a rule whose targets contain %.
type PatternRule struct {
	Patterns      []string
	Prerequisites []string
	Recipe        []string
}

// StaticPatternRule is "targets: target-pattern: prereq-patterns".
type StaticPatternRule struct {
	Targets              []string
	TargetPattern        string
	PrerequisitePatterns []string
	Recipe               []string
}

func (Comment) statement()           {}
func (Blank) statement()             {}
func (VariableDef) statement()       {}
func (Directive) statement()         {}
func (ExplicitRule) statement()      {}
func (PatternRule) statement()       {}
func (StaticPatternRule) statement() {}

// StringPtr returns a pointer to s, for VariableDef.Value.
func StringPtr(s string) *string {
	return &s
}
