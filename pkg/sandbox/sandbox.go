// Package sandbox evaluates epine scripts in a restricted Lua interpreter.
//
// Each evaluation gets a fresh interpreter with the table, string, math and package libraries,
// a reduced os table and the epine host API. require() is backed by a resolver.Chain owned by
// the evaluation.
package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	lua "github.com/yuin/gopher-lua"

	"github.com/epine-build/epine/pkg/output"
	"github.com/epine-build/epine/pkg/resolver"
)

//go:embed api.lua
var preamble []byte

// Options configures a Sandbox.
type Options struct {
	// Searchers are tried after the scoped searcher rooted at the current module's directory.
	Searchers []resolver.Searcher
	// Args is exposed to scripts as epine.args.
	Args []string
	// Version is exposed as epine.version and checked by epine.require_version.
	Version string
}

// Sandbox evaluates scripts. It holds no interpreter state between evaluations.
type Sandbox struct {
	opts Options
}

// New creates a Sandbox.
func New(opts Options) *Sandbox {
	if opts.Version == "" {
		opts.Version = "0.0.0-dev"
	}
	return &Sandbox{opts: opts}
}

type evaluation struct {
	ctx       context.Context
	opts      *Options
	L         *lua.LState
	chain     *resolver.Chain
	baseDir   string
	dirs      []string
	loaded    map[string]lua.LValue
	loading   map[string]bool
	remote    map[string]string
	emitted   *lua.LTable
	errorMeta *lua.LTable
	yamlCache map[string]interface{}
}

// Evaluate runs source and returns its raw result: a sequence holding the value returned by
// the script followed by everything passed to epine.emit. baseDir roots the first searcher
// and may be empty if the script has no directory.
func (s *Sandbox) Evaluate(ctx context.Context, source []byte, name, baseDir string) (lua.LValue, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	var root resolver.Searcher
	if baseDir != "" {
		var err error
		baseDir, err = filepath.Abs(baseDir)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve %s", baseDir)
		}
		root = resolver.LocalSearcher{Root: baseDir}
	}

	ev := &evaluation{
		ctx:       ctx,
		opts:      &s.opts,
		L:         L,
		chain:     resolver.NewChain(root, s.opts.Searchers...),
		baseDir:   baseDir,
		loaded:    make(map[string]lua.LValue),
		loading:   make(map[string]bool),
		remote:    make(map[string]string),
		emitted:   L.NewTable(),
		yamlCache: make(map[string]interface{}),
	}
	ev.dirs = append(ev.dirs, baseDir)

	err := ev.openLibs()
	if err != nil {
		return nil, err
	}

	L.SetGlobal("require", L.NewFunction(ev.require))
	api := ev.newAPI()
	L.SetGlobal("epine", api)

	_, err = ev.exec(preamble, "epine/api.lua")
	if err != nil {
		return nil, eris.Wrap(ev.translate(err), "failed to load the epine preamble")
	}

	result, err := ev.exec(source, name)
	if err != nil {
		return nil, ev.translate(err)
	}

	if hook, ok := L.GetField(api, "on_end").(*lua.LFunction); ok {
		output.Log(ctx).Debug().Msg("Running on_end hook")
		err = L.CallByParam(lua.P{Fn: hook, NRet: 0, Protect: true})
		if err != nil {
			return nil, ev.translate(err)
		}
	}

	raw := L.NewTable()
	if result != lua.LNil {
		raw.Append(result)
	}
	raw.Append(ev.emitted)
	return raw, nil
}

func (ev *evaluation) openLibs() error {
	L := ev.L
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.OsLibName, lua.OpenOs},
	} {
		err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name))
		if err != nil {
			return eris.Wrapf(err, "failed to open Lua library %q", lib.name)
		}
	}

	for _, name := range []string{"dofile", "loadfile", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(ev.print))

	safeOs := L.NewTable()
	if osLib, ok := L.GetGlobal("os").(*lua.LTable); ok {
		for _, name := range []string{"clock", "date", "difftime", "getenv", "time"} {
			safeOs.RawSetString(name, osLib.RawGetString(name))
		}
	}
	L.SetGlobal("os", safeOs)

	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		pkg.RawSetString("loadlib", lua.LNil)
		pkg.RawSetString("path", lua.LString(""))
		pkg.RawSetString("cpath", lua.LString(""))
		if loaded, ok := pkg.RawGetString("loaded").(*lua.LTable); ok {
			loaded.RawSetString("os", safeOs)
		}
	}

	ev.errorMeta = L.NewTable()
	ev.errorMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		if err, ok := ud.Value.(error); ok {
			L.Push(lua.LString(err.Error()))
		} else {
			L.Push(lua.LString("error"))
		}
		return 1
	}))

	return nil
}

// exec loads and runs a chunk and returns its first result.
func (ev *evaluation) exec(source []byte, chunkName string, args ...lua.LValue) (lua.LValue, error) {
	fn, err := ev.L.Load(bytes.NewReader(source), chunkName)
	if err != nil {
		return nil, err
	}

	err = ev.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	if err != nil {
		return nil, err
	}

	result := ev.L.Get(-1)
	ev.L.Pop(1)
	return result, nil
}

// translate turns interpreter errors into the error kinds returned by Evaluate. Host errors
// raised with raise() come back with their original type.
func (ev *evaluation) translate(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &ScriptError{Message: err.Error()}
	}

	if ud, ok := apiErr.Object.(*lua.LUserData); ok {
		if hostErr, ok := ud.Value.(error); ok {
			return hostErr
		}
	}

	msg := err.Error()
	if apiErr.Object != nil {
		msg = apiErr.Object.String()
	}

	return &ScriptError{
		Message:   msg,
		Traceback: apiErr.StackTrace,
		Syntax:    apiErr.Type == lua.ApiErrorSyntax,
	}
}

// raise aborts the running Lua function with err. Scripts can catch it with pcall; uncaught,
// Evaluate returns err unchanged.
func (ev *evaluation) raise(err error) {
	ud := ev.L.NewUserData()
	ud.Value = err
	ev.L.SetMetatable(ud, ev.errorMeta)
	ev.L.Error(ud, 0)
}

func (ev *evaluation) require(L *lua.LState) int {
	name := L.CheckString(1)

	// package coordinates don't depend on the current scope
	if path, ok := ev.remote[name]; ok {
		if value, ok := ev.loaded[path]; ok {
			L.Push(value)
			return 1
		}
	}

	mod, err := ev.chain.Resolve(ev.ctx, name)
	if err != nil {
		ev.raise(err)
		return 0
	}

	if mod.Remote {
		ev.remote[name] = mod.Path
	}

	if value, ok := ev.loaded[mod.Path]; ok {
		L.Push(value)
		return 1
	}

	if ev.loading[mod.Path] {
		L.RaiseError("loop or previous error loading module '%s'", name)
		return 0
	}

	source, err := os.ReadFile(mod.Path)
	if err != nil {
		ev.raise(eris.Wrapf(err, "failed to read module %s", mod.Path))
		return 0
	}

	output.Log(ev.ctx).Debug().Str("path", mod.Path).Msgf("Loading module %s", name)
	value, err := ev.runModule(mod, source)
	if err != nil {
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) && apiErr.Object != nil {
			L.Error(apiErr.Object, 0)
			return 0
		}
		ev.raise(err)
		return 0
	}

	if value == lua.LNil {
		value = lua.LTrue
	}
	ev.loaded[mod.Path] = value

	L.Push(value)
	return 1
}

// runModule executes a module's top level with the first searcher rooted at its directory.
func (ev *evaluation) runModule(mod *resolver.Module, source []byte) (lua.LValue, error) {
	ev.loading[mod.Path] = true
	leave := ev.chain.Enter(mod)
	ev.dirs = append(ev.dirs, mod.Dir)
	defer func() {
		ev.dirs = ev.dirs[:len(ev.dirs)-1]
		leave()
		delete(ev.loading, mod.Path)
	}()

	return ev.exec(source, ev.simplifyPath(mod.Path), lua.LString(mod.Name), lua.LString(mod.Path))
}

// currentDir is the directory of the module whose top level is running.
func (ev *evaluation) currentDir() string {
	dir := ev.dirs[len(ev.dirs)-1]
	if dir == "" {
		wd, err := os.Getwd()
		if err == nil {
			return wd
		}
	}
	return dir
}

func (ev *evaluation) simplifyPath(path string) string {
	if ev.baseDir == "" {
		return path
	}

	rel, err := filepath.Rel(ev.baseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func (ev *evaluation) print(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for idx := 1; idx <= top; idx++ {
		parts = append(parts, L.ToStringMeta(L.Get(idx)).String())
	}

	output.Log(ev.ctx).Info().Str("source", "script").Msg(strings.Join(parts, "\t"))
	return 0
}
