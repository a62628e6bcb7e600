package makefile

import (
	"strings"
)

// Render serializes the build file. Every statement contributes one or more lines; the result
// ends with exactly one newline unless the file is empty.
func Render(file BuildFile) string {
	var out strings.Builder

	for _, stmt := range file {
		for _, line := range renderStatement(stmt) {
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}

	return out.String()
}

// String renders the build file, see Render.
func (f BuildFile) String() string {
	return Render(f)
}

func renderStatement(stmt Statement) []string {
	switch s := stmt.(type) {
	case Comment:
		lines := strings.Split(s.Text, "\n")
		for idx, line := range lines {
			lines[idx] = "#" + line
		}
		return lines
	case Blank:
		return []string{""}
	case VariableDef:
		line := ""
		if s.Targets != nil {
			line = strings.Join(s.Targets, " ") + ": "
		}
		line += s.Name + " " + s.Flavor.Operator()
		if s.Value != nil {
			line += " " + *s.Value
		}
		return []string{line}
	case Directive:
		return []string{s.Kind.Keyword() + optionalList(s.Files)}
	case ExplicitRule:
		head := strings.Join(s.Targets, " ") + ":" + optionalList(s.Prerequisites)
		return withRecipe(head, s.Recipe)
	case PatternRule:
		head := strings.Join(s.Patterns, " ") + ":" + optionalList(s.Prerequisites)
		return withRecipe(head, s.Recipe)
	case StaticPatternRule:
		head := strings.Join(s.Targets, " ") + ": " + s.TargetPattern
		if s.PrerequisitePatterns != nil {
			head += ":" + optionalList(s.PrerequisitePatterns)
		}
		return withRecipe(head, s.Recipe)
	}

	return nil
}

// optionalList renders an absent list as nothing and a present one with a leading space.
func optionalList(items []string) string {
	if items == nil {
		return ""
	}
	return " " + strings.Join(items, " ")
}

func withRecipe(head string, recipe []string) []string {
	lines := make([]string, 0, len(recipe)+1)
	lines = append(lines, head)
	for _, line := range recipe {
		lines = append(lines, "\t"+line)
	}
	return lines
}
