// Package resolver implements the module lookup behind the sandbox's require().
//
// A Chain holds an ordered list of searchers. The first one is scoped: while a module's top
// level runs it is rooted at that module's directory, so nested requires resolve relative to
// the requiring file. Chain.Enter pushes such a scope and returns the function that pops it.
package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Module is a resolved module file.
type Module struct {
	Name string
	// Path is the absolute path of the file to execute.
	Path string
	// Dir is the directory nested requires are resolved against while the module runs.
	Dir string
	// Remote is set for modules coming from a fetched package.
	Remote bool
}

// Searcher tries to resolve a module name. The error of a failed search is a short
// diagnostic explaining what was tried.
type Searcher interface {
	Search(ctx context.Context, name string) (*Module, error)
}

// LocalSearcher resolves <Root>/<name>.lua and <Root>/<name>/init.lua.
type LocalSearcher struct {
	Root string
}

var _ Searcher = LocalSearcher{}

// Candidates lists the files tried for name, in order.
func (s LocalSearcher) Candidates(name string) []string {
	rel := filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))
	return []string{
		filepath.Join(s.Root, rel+".lua"),
		filepath.Join(s.Root, rel, "init.lua"),
	}
}

func (s LocalSearcher) Search(ctx context.Context, name string) (*Module, error) {
	if name == "" {
		return nil, eris.New("empty module name")
	}

	candidates := s.Candidates(name)
	tried := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			path, err := filepath.Abs(candidate)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to resolve %s", candidate)
			}

			return &Module{Name: name, Path: path, Dir: filepath.Dir(path)}, nil
		}

		tried = append(tried, "no file '"+candidate+"'")
	}

	return nil, eris.New(strings.Join(tried, "\n"))
}

func (s LocalSearcher) String() string {
	return "local(" + s.Root + ")"
}
