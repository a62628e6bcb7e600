package normalize

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/epine-build/epine/pkg/makefile"
)

// fields reads the payload table of a tagged statement.
type fields struct {
	tag  string
	path string
	tbl  *lua.LTable
}

func object(tag, path string, value lua.LValue) (fields, error) {
	tbl, ok := value.(*lua.LTable)
	if !ok {
		return fields{}, &SchemaError{Tag: tag, Path: path, Reason: fmt.Sprintf("expected a table, found %s", value.Type())}
	}
	return fields{tag: tag, path: path, tbl: tbl}, nil
}

func (f fields) fail(name, format string, args ...interface{}) error {
	return &SchemaError{Tag: f.tag, Path: f.path + "." + name, Reason: fmt.Sprintf(format, args...)}
}

func (f fields) optString(name string) (*string, error) {
	switch value := f.tbl.RawGetString(name).(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		s := string(value)
		return &s, nil
	default:
		return nil, f.fail(name, "expected a string, found %s", value.Type())
	}
}

func (f fields) str(name string) (string, error) {
	value, err := f.optString(name)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", f.fail(name, "missing required field")
	}
	return *value, nil
}

func (f fields) nonEmptyStr(name string) (string, error) {
	value, err := f.str(name)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", f.fail(name, "must not be empty")
	}
	return value, nil
}

// optList returns nil if the field is absent and a non-nil slice otherwise.
func (f fields) optList(name string) ([]string, error) {
	raw := f.tbl.RawGetString(name)
	if raw == lua.LNil {
		return nil, nil
	}

	tbl, ok := raw.(*lua.LTable)
	if !ok {
		return nil, f.fail(name, "expected a list of strings, found %s", raw.Type())
	}

	length := tbl.Len()
	out := make([]string, 0, length)
	count := 0
	var err error
	tbl.ForEach(func(key, value lua.LValue) {
		count++
		if err != nil {
			return
		}

		idx, ok := key.(lua.LNumber)
		if !ok || int(idx) < 1 || int(idx) > length || lua.LNumber(int(idx)) != idx {
			err = f.fail(name, "expected a list of strings, found key %s", key)
		}
	})
	if err != nil {
		return nil, err
	}
	if count != length {
		return nil, f.fail(name, "expected a list of strings without holes")
	}

	for idx := 1; idx <= length; idx++ {
		item, ok := tbl.RawGetInt(idx).(lua.LString)
		if !ok {
			return nil, f.fail(fmt.Sprintf("%s[%d]", name, idx), "expected a string, found %s", tbl.RawGetInt(idx).Type())
		}
		out = append(out, string(item))
	}
	return out, nil
}

func (f fields) list(name string) ([]string, error) {
	value, err := f.optList(name)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, f.fail(name, "missing required field")
	}
	if len(value) == 0 {
		return nil, f.fail(name, "must not be empty")
	}
	return value, nil
}

func (f fields) variableDef() (makefile.Statement, error) {
	name, err := f.nonEmptyStr("name")
	if err != nil {
		return nil, err
	}

	value, err := f.optString("value")
	if err != nil {
		return nil, err
	}

	flavorName, err := f.str("flavor")
	if err != nil {
		return nil, err
	}
	flavor, err := makefile.ParseFlavor(flavorName)
	if err != nil {
		return nil, f.fail("flavor", "%s", err)
	}

	targets, err := f.optList("targets")
	if err != nil {
		return nil, err
	}

	return makefile.VariableDef{Name: name, Value: value, Flavor: flavor, Targets: targets}, nil
}

func (f fields) directive() (makefile.Statement, error) {
	kindName, err := f.str("t")
	if err != nil {
		return nil, err
	}

	var kind makefile.DirectiveKind
	switch kindName {
	case "Include":
		kind = makefile.Include
	case "SilentInclude":
		kind = makefile.SilentInclude
	default:
		return nil, f.fail("t", "unknown directive %q", kindName)
	}

	files, err := f.optList("c")
	if err != nil {
		return nil, err
	}

	return makefile.Directive{Kind: kind, Files: files}, nil
}

func (f fields) explicitRule() (makefile.Statement, error) {
	targets, err := f.list("targets")
	if err != nil {
		return nil, err
	}

	prerequisites, err := f.optList("prerequisites")
	if err != nil {
		return nil, err
	}

	recipe, err := f.optList("recipe")
	if err != nil {
		return nil, err
	}

	return makefile.ExplicitRule{Targets: targets, Prerequisites: prerequisites, Recipe: recipe}, nil
}

func (f fields) patternRule() (makefile.Statement, error) {
	patterns, err := f.list("patterns")
	if err != nil {
		return nil, err
	}

	prerequisites, err := f.optList("prerequisites")
	if err != nil {
		return nil, err
	}

	recipe, err := f.optList("recipe")
	if err != nil {
		return nil, err
	}

	return makefile.PatternRule{Patterns: patterns, Prerequisites: prerequisites, Recipe: recipe}, nil
}

func (f fields) staticPatternRule() (makefile.Statement, error) {
	targets, err := f.list("targets")
	if err != nil {
		return nil, err
	}

	targetPattern, err := f.nonEmptyStr("target_pattern")
	if err != nil {
		return nil, err
	}

	prerequisitePatterns, err := f.optList("prerequisite_patterns")
	if err != nil {
		return nil, err
	}

	recipe, err := f.optList("recipe")
	if err != nil {
		return nil, err
	}

	return makefile.StaticPatternRule{
		Targets:              targets,
		TargetPattern:        targetPattern,
		PrerequisitePatterns: prerequisitePatterns,
		Recipe:               recipe,
	}, nil
}
