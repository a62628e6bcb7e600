package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"mvdan.cc/sh/v3/syntax"

	"github.com/epine-build/epine/pkg/fetch"
	"github.com/epine-build/epine/pkg/resolver"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func evaluate(t *testing.T, sb *Sandbox, dir, source string) (*lua.LTable, error) {
	t.Helper()

	raw, err := sb.Evaluate(context.Background(), []byte(source), "Epine.lua", dir)
	if err != nil {
		return nil, err
	}

	tbl, ok := raw.(*lua.LTable)
	require.True(t, ok, "result is not a table")
	return tbl, nil
}

// returned is the value the script itself returned.
func returned(t *testing.T, raw *lua.LTable) lua.LValue {
	t.Helper()
	require.Equal(t, 2, raw.Len())
	return raw.RawGetInt(1)
}

func strs(t *testing.T, value lua.LValue) []string {
	t.Helper()

	tbl, ok := value.(*lua.LTable)
	require.True(t, ok, "%s is not a table", value)

	out := []string{}
	for idx := 1; idx <= tbl.Len(); idx++ {
		out = append(out, lua.LVAsString(tbl.RawGetInt(idx)))
	}
	return out
}

func TestEvaluateAppendsEmittedStatements(t *testing.T) {
	raw, err := evaluate(t, New(Options{}), "", `
		epine.emit(epine.comment("main"))
		epine.on_end = function()
			epine.emit(epine.comment("end"))
		end
		return epine.comment("returned")
	`)
	require.NoError(t, err)

	require.Equal(t, "returned", lua.LVAsString(returned(t, raw).(*lua.LTable).RawGetString("c")))

	emitted := raw.RawGetInt(2).(*lua.LTable)
	require.Equal(t, 2, emitted.Len())
	require.Equal(t, "main", lua.LVAsString(emitted.RawGetInt(1).(*lua.LTable).RawGetString("c")))
	require.Equal(t, "end", lua.LVAsString(emitted.RawGetInt(2).(*lua.LTable).RawGetString("c")))
}

func TestEvaluateWithoutReturnValue(t *testing.T) {
	raw, err := evaluate(t, New(Options{}), "", `local x = 1`)
	require.NoError(t, err)
	require.Equal(t, 1, raw.Len())
	require.Equal(t, 0, raw.RawGetInt(1).(*lua.LTable).Len())
}

func TestSandboxHidesUnsafeFunctions(t *testing.T) {
	raw, err := evaluate(t, New(Options{}), "", `
		return {
			type(os.execute), type(os.remove), type(io), type(dofile),
			type(loadfile), type(package.loadlib), type(os.time), type(string.format),
		}
	`)
	require.NoError(t, err)

	want := []string{"nil", "nil", "nil", "nil", "nil", "nil", "function", "function"}
	if diff := cmp.Diff(want, strs(t, returned(t, raw))); diff != "" {
		t.Fatalf("unexpected globals (-want +got):\n%s", diff)
	}
}

func TestScriptErrors(t *testing.T) {
	_, err := evaluate(t, New(Options{}), "", "local x = \nreturn (")

	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.True(t, scriptErr.Syntax)
	require.Contains(t, scriptErr.Message, "Epine.lua")

	_, err = evaluate(t, New(Options{}), "", "local x = 1\nerror('boom')")
	require.ErrorAs(t, err, &scriptErr)
	require.False(t, scriptErr.Syntax)
	require.Equal(t, "Epine.lua:2: boom", scriptErr.Message)
}

func TestOnEndFailureIsScriptError(t *testing.T) {
	_, err := evaluate(t, New(Options{}), "", `epine.on_end = function() error("late") end`)

	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Contains(t, scriptErr.Message, "late")
}

func TestRequireScopesToModuleDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "helper.lua"), `return "root helper"`)
	writeFile(t, filepath.Join(root, "lib", "init.lua"), `
		loads = (loads or 0) + 1
		return { name = ..., helper = require("helper") }
	`)
	writeFile(t, filepath.Join(root, "lib", "helper.lua"), `return "lib helper"`)
	writeFile(t, filepath.Join(root, "side.lua"), `x = 1`)

	raw, err := evaluate(t, New(Options{}), root, `
		local a = require("lib")
		local b = require("lib")
		return { a.name, a.helper, require("helper"), tostring(a == b), tostring(loads), tostring(require("side")) }
	`)
	require.NoError(t, err)

	want := []string{"lib", "lib helper", "root helper", "true", "1", "true"}
	if diff := cmp.Diff(want, strs(t, returned(t, raw))); diff != "" {
		t.Fatalf("unexpected module values (-want +got):\n%s", diff)
	}
}

func TestRequireMissingModule(t *testing.T) {
	root := t.TempDir()

	_, err := evaluate(t, New(Options{}), root, `return require("nope")`)
	var notFound *resolver.ModuleNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "nope", notFound.Name)

	raw, err := evaluate(t, New(Options{}), root, `
		local ok, err = pcall(require, "nope")
		return { tostring(ok), tostring(err) }
	`)
	require.NoError(t, err)
	got := strs(t, returned(t, raw))
	require.Equal(t, "false", got[0])
	require.Contains(t, got[1], "module 'nope' not found")
}

func TestRequireNestedFailureKeepsLocation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "outer.lua"), `return require("inner")`)
	writeFile(t, filepath.Join(root, "inner.lua"), "\nerror('broken')")
	writeFile(t, filepath.Join(root, "missing.lua"), `return require("gone")`)

	_, err := evaluate(t, New(Options{}), root, `require("outer")`)
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Equal(t, "inner.lua:2: broken", scriptErr.Message)

	_, err = evaluate(t, New(Options{}), root, `require("missing")`)
	var notFound *resolver.ModuleNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "gone", notFound.Name)
}

type dirFetcher struct {
	dir   string
	calls int
}

func (f *dirFetcher) Fetch(_ context.Context, _ fetch.Coordinate) (string, error) {
	f.calls++
	return f.dir, nil
}

func TestRequireRemotePackage(t *testing.T) {
	pkg := t.TempDir()
	writeFile(t, filepath.Join(pkg, "init.lua"), `return { rules = require("rules") }`)
	writeFile(t, filepath.Join(pkg, "rules.lua"), `return "package rules"`)

	fetcher := &dirFetcher{dir: pkg}
	sb := New(Options{Searchers: []resolver.Searcher{resolver.RemoteSearcher{Fetcher: fetcher}}})

	raw, err := evaluate(t, sb, t.TempDir(), `
		local a = require("@acme/widgets/v1")
		local b = require("@acme/widgets/v1")
		return { a.rules, tostring(a == b) }
	`)
	require.NoError(t, err)
	require.Equal(t, []string{"package rules", "true"}, strs(t, returned(t, raw)))
	require.Equal(t, 1, fetcher.calls)
}

func TestReadYaml(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "project.yaml"), "name: demo\nsources:\n  - main.c\n  - util.c\nflags:\n  debug: true\n")
	writeFile(t, filepath.Join(root, "lib", "conf.lua"), `return epine.read_yaml("local.yaml", "value")`)
	writeFile(t, filepath.Join(root, "lib", "local.yaml"), "value: nested\n")

	raw, err := evaluate(t, New(Options{}), root, `
		local sources = epine.read_yaml("project.yaml", "sources")
		return {
			epine.read_yaml("project.yaml", "name"),
			sources[1],
			sources[2],
			epine.read_yaml("project.yaml", "sources.1"),
			tostring(epine.read_yaml("project.yaml", "flags.debug")),
			epine.read_yaml("project.yaml", "missing.key", "fallback"),
			require("lib.conf"),
		}
	`)
	require.NoError(t, err)

	want := []string{"demo", "main.c", "util.c", "util.c", "true", "fallback", "nested"}
	if diff := cmp.Diff(want, strs(t, returned(t, raw))); diff != "" {
		t.Fatalf("unexpected YAML values (-want +got):\n%s", diff)
	}
}

func TestHostValues(t *testing.T) {
	t.Setenv("EPINE_TEST_VALUE", "from env")

	sb := New(Options{Args: []string{"debug", "fast"}, Version: "1.2.0"})
	raw, err := evaluate(t, sb, "", `
		epine.require_version(">= 1.0")
		return {
			epine.args[1], epine.args[2], epine.version,
			epine.getenv("EPINE_TEST_VALUE"), tostring(epine.getenv("EPINE_TEST_UNSET_VALUE")),
		}
	`)
	require.NoError(t, err)
	require.Equal(t, []string{"debug", "fast", "1.2.0", "from env", "nil"}, strs(t, returned(t, raw)))

	_, err = evaluate(t, sb, "", `epine.require_version("< 1.0")`)
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Contains(t, scriptErr.Message, "requires epine")
}

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{parts: []string{"$(CC)", "-o", "$@", "$^"}, want: "$(CC) -o $@ $^"},
		{parts: []string{"CC=gcc", "make", "all"}, want: "CC=gcc make all"},
		{parts: []string{"echo", "hello world"}, want: "echo 'hello world'"},
		{parts: []string{"echo", "it's"}, want: `echo 'it'\''s'`},
		{parts: []string{"echo", ""}, want: "echo ''"},
		{parts: []string{"printf", "a=b"}, want: "printf a=b"},
		{parts: []string{"$(CC)", "$(CFLAGS)", "-c", "$<", "-o", "${OUT}"}, want: "$(CC) $(CFLAGS) -c $< -o ${OUT}"},
		{parts: []string{"$(patsubst %.c,%.o,$(SRC))"}, want: "$(patsubst %.c,%.o,$(SRC))"},
		{parts: []string{"echo", "$(NAME) is ready"}, want: "echo '$(NAME) is ready'"},
		{parts: []string{"echo", "$$(date)"}, want: "echo '$$(date)'"},
		{parts: []string{"echo", "$(unterminated"}, want: "echo '$(unterminated'"},
	}

	for _, tt := range tests {
		got, err := buildCommand(syntax.NewParser(), syntax.NewPrinter(syntax.Minify(true)), tt.parts)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, "%q", tt.parts)
	}
}

func TestHelpersBuildStatements(t *testing.T) {
	raw, err := evaluate(t, New(Options{}), "", `
		local target, phony = epine.target, epine.phony
		return {
			epine.svar("CC", "gcc"),
			epine.var("SRC", { "a.c", "b.c" }),
			epine.var("EMPTY", ""),
			epine.var("UNSET"),
			phony "all" { prerequisites = "app" },
			target "app" { prerequisites = { "a.o", "b.o" }, "$(CC) -o $@ $^" },
			epine.include(),
		}
	`)
	require.NoError(t, err)

	stmts := returned(t, raw).(*lua.LTable)
	require.Equal(t, 7, stmts.Len())

	cc := stmts.RawGetInt(1).(*lua.LTable).RawGetString("c").(*lua.LTable)
	require.Equal(t, "immediate", lua.LVAsString(cc.RawGetString("flavor")))

	src := stmts.RawGetInt(2).(*lua.LTable).RawGetString("c").(*lua.LTable)
	require.Equal(t, "a.c b.c", lua.LVAsString(src.RawGetString("value")))

	empty := stmts.RawGetInt(3).(*lua.LTable).RawGetString("c").(*lua.LTable)
	require.Equal(t, lua.LString(""), empty.RawGetString("value"))

	unset := stmts.RawGetInt(4).(*lua.LTable).RawGetString("c").(*lua.LTable)
	require.Equal(t, lua.LNil, unset.RawGetString("value"))

	all := stmts.RawGetInt(5).(*lua.LTable)
	require.Equal(t, 2, all.Len())
	phonyRule := all.RawGetInt(1).(*lua.LTable).RawGetString("c").(*lua.LTable)
	require.Equal(t, []string{".PHONY"}, strs(t, phonyRule.RawGetString("targets")))
	require.Equal(t, []string{"all"}, strs(t, phonyRule.RawGetString("prerequisites")))

	app := stmts.RawGetInt(6).(*lua.LTable).RawGetString("c").(*lua.LTable)
	require.Equal(t, []string{"a.o", "b.o"}, strs(t, app.RawGetString("prerequisites")))
	require.Equal(t, []string{"$(CC) -o $@ $^"}, strs(t, app.RawGetString("recipe")))

	include := stmts.RawGetInt(7).(*lua.LTable).RawGetString("c").(*lua.LTable)
	require.Equal(t, "Include", lua.LVAsString(include.RawGetString("t")))
	require.Equal(t, lua.LNil, include.RawGetString("c"))
}
