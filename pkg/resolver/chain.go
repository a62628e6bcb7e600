package resolver

import (
	"context"
	"os"
	"path/filepath"

	"github.com/epine-build/epine/pkg/output"
)

// Chain tries its searchers in order. The first searcher is the innermost scope pushed with
// Enter (or the root scope given to NewChain), followed by the fixed searchers.
type Chain struct {
	scopes    []Searcher
	searchers []Searcher
}

// NewChain creates a chain. root may be nil if the root script's directory is unknown.
func NewChain(root Searcher, searchers ...Searcher) *Chain {
	chain := &Chain{searchers: searchers}
	if root != nil {
		chain.scopes = append(chain.scopes, root)
	}
	return chain
}

// Searchers returns the searchers in the order Resolve tries them.
func (c *Chain) Searchers() []Searcher {
	result := make([]Searcher, 0, len(c.searchers)+1)
	if len(c.scopes) > 0 {
		result = append(result, c.scopes[len(c.scopes)-1])
	}
	return append(result, c.searchers...)
}

// Resolve returns the first module found by the searchers. If every searcher fails the
// error is a *ModuleNotFoundError.
func (c *Chain) Resolve(ctx context.Context, name string) (*Module, error) {
	searchers := c.Searchers()
	diagnostics := make([]string, 0, len(searchers))

	for _, searcher := range searchers {
		mod, err := searcher.Search(ctx, name)
		if err == nil {
			output.Log(ctx).Debug().Str("path", mod.Path).Msgf("Resolved module %s", name)
			return mod, nil
		}

		diagnostics = append(diagnostics, err.Error())
	}

	return nil, &ModuleNotFoundError{Name: name, Diagnostics: diagnostics}
}

// Enter scopes the first searcher to mod's directory. The returned function restores the
// previous scope and must be called once mod's top level finished, whether it failed or not.
func (c *Chain) Enter(mod *Module) func() {
	depth := len(c.scopes)
	c.scopes = append(c.scopes, LocalSearcher{Root: mod.Dir})

	return func() {
		c.scopes = c.scopes[:depth]
	}
}

// Depth returns the number of active scopes, including the root scope.
func (c *Chain) Depth() int {
	return len(c.scopes)
}

// Locations describes the well-known directories searched after the scoped searcher.
type Locations struct {
	WorkDir    string
	ProjectDir string
	InstallDir string
	DataDir    string
}

// DefaultLocations returns the working directory, the project-local .epine folder, the
// directory of the running executable and the per-user data directory.
func DefaultLocations() Locations {
	var loc Locations

	wd, err := os.Getwd()
	if err == nil {
		loc.WorkDir = wd
		loc.ProjectDir = filepath.Join(wd, ".epine")
	}

	exe, err := os.Executable()
	if err == nil {
		loc.InstallDir = filepath.Dir(exe)
	}

	loc.DataDir = userDataDir()
	return loc
}

// Searchers returns one LocalSearcher per known location, skipping unknown ones.
func (l Locations) Searchers() []Searcher {
	result := make([]Searcher, 0, 4)
	for _, dir := range []string{l.WorkDir, l.ProjectDir, l.InstallDir, l.DataDir} {
		if dir != "" {
			result = append(result, LocalSearcher{Root: dir})
		}
	}
	return result
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "epine")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "epine")
}
