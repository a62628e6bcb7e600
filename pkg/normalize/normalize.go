// Package normalize reduces the raw result of a script into a makefile.BuildFile.
//
// The result is walked depth first, left to right. Non-empty sequences are spliced into the
// output in place, empty tables are dropped and every other table is decoded as a statement:
// field t holds the tag and field c its payload.
package normalize

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/epine-build/epine/pkg/makefile"
)

// Normalize flattens value into a build file. A nil value is an empty build file.
func Normalize(value lua.LValue) (makefile.BuildFile, error) {
	out := makefile.BuildFile{}
	if value == lua.LNil {
		return out, nil
	}

	err := walk(value, "$", &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func walk(value lua.LValue, path string, out *makefile.BuildFile) error {
	tbl, ok := value.(*lua.LTable)
	if !ok {
		return &SchemaError{Path: path, Reason: fmt.Sprintf("expected a table, found %s", value.Type())}
	}

	if length := tbl.Len(); length > 0 {
		for idx := 1; idx <= length; idx++ {
			err := walk(tbl.RawGetInt(idx), fmt.Sprintf("%s[%d]", path, idx), out)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if key, _ := tbl.Next(lua.LNil); key == lua.LNil {
		return nil
	}

	stmt, err := decode(tbl, path)
	if err != nil {
		return err
	}
	*out = append(*out, stmt)
	return nil
}

func decode(tbl *lua.LTable, path string) (makefile.Statement, error) {
	tagValue := tbl.RawGetString("t")
	tag, ok := tagValue.(lua.LString)
	if !ok {
		return nil, &SchemaError{Path: path, Reason: fmt.Sprintf("field t must be a string tag, found %s", tagValue.Type())}
	}

	payload := tbl.RawGetString("c")
	fieldsPath := path + ".c"

	switch string(tag) {
	case "Comment":
		text, ok := payload.(lua.LString)
		if !ok {
			return nil, &SchemaError{Tag: string(tag), Path: fieldsPath, Reason: fmt.Sprintf("expected a string, found %s", payload.Type())}
		}
		return makefile.Comment{Text: string(text)}, nil

	case "Blank":
		return makefile.Blank{}, nil

	case "VariableDef":
		f, err := object(string(tag), fieldsPath, payload)
		if err != nil {
			return nil, err
		}
		return f.variableDef()

	case "Directive":
		f, err := object(string(tag), fieldsPath, payload)
		if err != nil {
			return nil, err
		}
		return f.directive()

	case "ExplicitRule":
		f, err := object(string(tag), fieldsPath, payload)
		if err != nil {
			return nil, err
		}
		return f.explicitRule()

	case "PatternRule":
		f, err := object(string(tag), fieldsPath, payload)
		if err != nil {
			return nil, err
		}
		return f.patternRule()

	case "StaticPatternRule":
		f, err := object(string(tag), fieldsPath, payload)
		if err != nil {
			return nil, err
		}
		return f.staticPatternRule()
	}

	return nil, &SchemaError{Tag: string(tag), Path: path, Reason: "unknown statement tag"}
}
