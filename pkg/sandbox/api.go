package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"

	"github.com/epine-build/epine/pkg/output"
)

// newAPI builds the host side of the epine table. The authoring helpers are added by api.lua.
func (ev *evaluation) newAPI() *lua.LTable {
	L := ev.L
	api := L.NewTable()

	args := L.CreateTable(len(ev.opts.Args), 0)
	for _, arg := range ev.opts.Args {
		args.Append(lua.LString(arg))
	}
	api.RawSetString("args", args)
	api.RawSetString("os", lua.LString(runtime.GOOS))
	api.RawSetString("arch", lua.LString(runtime.GOARCH))
	api.RawSetString("version", lua.LString(ev.opts.Version))

	L.SetFuncs(api, map[string]lua.LGFunction{
		"emit":            ev.emit,
		"info":            ev.info,
		"warn":            ev.warn,
		"getenv":          ev.getenv,
		"read_yaml":       ev.readYaml,
		"sh":              ev.sh,
		"require_version": ev.requireVersion,
	})

	return api
}

func (ev *evaluation) emit(L *lua.LState) int {
	for idx := 1; idx <= L.GetTop(); idx++ {
		ev.emitted.Append(L.Get(idx))
	}
	return 0
}

func (ev *evaluation) info(L *lua.LState) int {
	output.Log(ev.ctx).Info().Msg(L.Where(1) + " " + L.CheckString(1))
	return 0
}

func (ev *evaluation) warn(L *lua.LState) int {
	output.Log(ev.ctx).Warn().Msg(L.Where(1) + " " + L.CheckString(1))
	return 0
}

func (ev *evaluation) getenv(L *lua.LState) int {
	value, ok := os.LookupEnv(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
	} else {
		L.Push(lua.LString(value))
	}
	return 1
}

func (ev *evaluation) readYaml(L *lua.LState) int {
	yamlFile := L.CheckString(1)
	yamlKey := L.OptString(2, "")
	defaultValue := L.Get(3)

	if !filepath.IsAbs(yamlFile) {
		yamlFile = filepath.Join(ev.currentDir(), yamlFile)
	}

	doc, loaded := ev.yamlCache[yamlFile]
	if !loaded {
		content, err := os.ReadFile(yamlFile)
		if err != nil {
			L.RaiseError("failed to open file %s: %s", ev.simplifyPath(yamlFile), err)
			return 0
		}

		err = yaml.Unmarshal(content, &doc)
		if err != nil {
			L.RaiseError("failed to parse file %s: %s", ev.simplifyPath(yamlFile), err)
			return 0
		}
		ev.yamlCache[yamlFile] = doc
	}

	value, found, err := lookupKey(doc, yamlKey)
	if err != nil {
		L.RaiseError("%s", err)
		return 0
	}
	if !found {
		L.Push(defaultValue)
		return 1
	}

	result, err := goToLua(L, value)
	if err != nil {
		L.RaiseError("can't return value from %s: %s", ev.simplifyPath(yamlFile), err)
		return 0
	}

	L.Push(result)
	return 1
}

func (ev *evaluation) sh(L *lua.LState) int {
	var values []lua.LValue
	if tbl, ok := L.Get(1).(*lua.LTable); ok && L.GetTop() == 1 {
		for idx := 1; idx <= tbl.Len(); idx++ {
			values = append(values, tbl.RawGetInt(idx))
		}
	} else {
		for idx := 1; idx <= L.GetTop(); idx++ {
			values = append(values, L.Get(idx))
		}
	}

	parts := make([]string, len(values))
	for idx, value := range values {
		switch value.Type() {
		case lua.LTString, lua.LTNumber:
			parts[idx] = lua.LVAsString(value)
		default:
			L.RaiseError("found argument of type %s but only strings and numbers are supported: %s",
				value.Type(), value.String())
			return 0
		}
	}

	line, err := buildCommand(syntax.NewParser(), syntax.NewPrinter(syntax.Minify(true)), parts)
	if err != nil {
		ev.raise(err)
		return 0
	}

	L.Push(lua.LString(line))
	return 1
}

func (ev *evaluation) requireVersion(L *lua.LState) int {
	constraint, err := semver.NewConstraint(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	current, err := semver.NewVersion(ev.opts.Version)
	if err != nil {
		ev.raise(eris.Wrapf(err, "failed to parse epine version %q", ev.opts.Version))
		return 0
	}

	if !constraint.Check(current) {
		L.RaiseError("this script requires epine %s but this is %s", strings.TrimSpace(L.CheckString(1)), current)
		return 0
	}

	L.Push(lua.LTrue)
	return 1
}
