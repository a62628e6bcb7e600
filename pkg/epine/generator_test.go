package epine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/epine-build/epine/pkg/normalize"
	"github.com/epine-build/epine/pkg/resolver"
	"github.com/epine-build/epine/pkg/sandbox"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{
			name:   "empty",
			script: `return {}`,
			want:   "",
		},
		{
			name: "variable and rule",
			script: `
				return {
					epine.svar("CC", "gcc"),
					epine.br,
					epine.erule { targets = "all", prerequisites = "main.o", recipe = "gcc -o all main.o" },
				}
			`,
			want: "CC := gcc\n\nall: main.o\n\tgcc -o all main.o\n",
		},
		{
			name: "project helpers",
			script: `
				local target, phony = epine.target, epine.phony
				epine.emit(epine.comment(" generated"))
				return {
					epine.var("NAME", "app"),
					epine.var("SRC", epine.find("*.c", "src")),
					epine.append("CFLAGS", "-g", "debug"),
					phony "all" { prerequisites = "$(NAME)" },
					target "$(NAME)" { prerequisites = "$(SRC:.c=.o)", "$(CC) -o $@ $^" },
					phony "clean" { epine.rm("$(NAME)") },
					epine.sinclude("$(SRC:.c=.d)"),
				}
			`,
			want: "NAME = app\n" +
				"SRC = $(shell find src -name '*.c')\n" +
				"debug: CFLAGS += -g\n" +
				".PHONY: all\n" +
				"all: $(NAME)\n" +
				"$(NAME): $(SRC:.c=.o)\n" +
				"\t$(CC) -o $@ $^\n" +
				".PHONY: clean\n" +
				"clean:\n" +
				"\trm -f $(NAME)\n" +
				"-include $(SRC:.c=.d)\n" +
				"# generated\n",
		},
		{
			name: "absent versus empty",
			script: `
				return {
					epine.var("CFLAGS", ""),
					epine.var("LDFLAGS"),
					epine.erule { targets = "clean", prerequisites = {} },
					epine.sprule { targets = "foo.o", target_pattern = "%.o", prerequisite_patterns = {} },
					epine.sinclude(),
				}
			`,
			want: "CFLAGS = \nLDFLAGS =\nclean: \nfoo.o: %.o: \n-include\n",
		},
		{
			name: "quoted recipe",
			script: `
				return epine.target("hello") { epine.echo("Hello, world!"), epine.sh { "printf", "%s", "it's" } }
			`,
			want: "hello:\n\t@echo 'Hello, world!'\n\tprintf %s 'it'\\''s'\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&Generator{}).Generate(context.Background(), Input{Source: []byte(tt.script)})
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("unexpected Makefile (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateUsesLocalModules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rules", "c.lua"), `
		local M = {}
		function M.program(name, sources)
			local objects = {}
			for i, src in ipairs(sources) do
				objects[i] = src:gsub("%.c$", ".o")
			end
			return epine.target(name) { prerequisites = objects, "$(CC) -o $@ $^" }
		end
		return M
	`)

	got, err := (&Generator{}).Generate(context.Background(), Input{
		Source:  []byte(`return require("rules.c").program("app", { "main.c", "util.c" })`),
		BaseDir: dir,
	})
	require.NoError(t, err)
	require.Equal(t, "app: main.o util.o\n\t$(CC) -o $@ $^\n", got)
}

func TestGenerateFileSkipsOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, DefaultInput)
	output := DefaultOutput(input)

	writeFile(t, input, `return { { t = "Bogus" } }`)
	err := (&Generator{}).GenerateFile(context.Background(), input, output, nil)
	var schemaErr *normalize.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.NoFileExists(t, output)

	writeFile(t, input, `return require("missing")`)
	err = (&Generator{}).GenerateFile(context.Background(), input, output, nil)
	var notFound *resolver.ModuleNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.NoFileExists(t, output)

	writeFile(t, input, `return {`)
	err = (&Generator{}).GenerateFile(context.Background(), input, output, nil)
	var scriptErr *sandbox.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.NoFileExists(t, output)

	err = (&Generator{}).GenerateFile(context.Background(), filepath.Join(dir, "nope.lua"), output, nil)
	var inputErr *InputNotFoundError
	require.ErrorAs(t, err, &inputErr)
}

func TestGenerateFileWritesOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, DefaultInput)
	output := DefaultOutput(input)
	writeFile(t, input, `return epine.var("MODE", epine.args[1])`)

	require.NoError(t, (&Generator{}).GenerateFile(context.Background(), input, output, []string{"release"}))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "MODE = release\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestFindInputSearchesParents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, DefaultInput), "return {}")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	path, err := FindInput(nested, DefaultInput)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, DefaultInput), path)

	_, err = FindInput(nested, "Missing.lua")
	var inputErr *InputNotFoundError
	require.ErrorAs(t, err, &inputErr)
}

func TestWatchRegeneratesOnChange(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, DefaultInput)
	output := DefaultOutput(input)
	writeFile(t, input, `return epine.var("A", "1")`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&Generator{}).Watch(ctx, input, output, nil)
	}()

	readOutput := func() string {
		data, _ := os.ReadFile(output)
		return string(data)
	}

	require.Eventually(t, func() bool { return readOutput() == "A = 1\n" }, 5*time.Second, 20*time.Millisecond)

	writeFile(t, input, `return epine.var("A", "2")`)
	require.Eventually(t, func() bool { return readOutput() == "A = 2\n" }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}
