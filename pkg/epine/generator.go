package epine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/epine-build/epine/pkg/config"
	"github.com/epine-build/epine/pkg/fetch"
	"github.com/epine-build/epine/pkg/makefile"
	"github.com/epine-build/epine/pkg/normalize"
	"github.com/epine-build/epine/pkg/resolver"
	"github.com/epine-build/epine/pkg/sandbox"
)

// Version is exposed to scripts as epine.version.
const Version = "0.3.0"

// DefaultInput is the script name looked up when no input is given.
const DefaultInput = "Epine.lua"

// Input is one script to generate a build file from.
type Input struct {
	Source []byte
	// Name is used in error messages.
	Name string
	// BaseDir roots module resolution; empty if the script has no directory.
	BaseDir string
	Args    []string
}

// Generator turns scripts into Makefiles.
type Generator struct {
	Fetcher   *fetch.Fetcher
	Searchers []resolver.Searcher
}

// NewGenerator builds a Generator with the default search locations and a remote searcher
// backed by the configured cache.
func NewGenerator(cfg *config.Config) (*Generator, error) {
	cacheRoot, err := cfg.CacheRoot()
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(fetch.Options{
		CacheRoot: cacheRoot,
		BaseURL:   cfg.Fetch.BaseURL,
		Timeout:   cfg.FetchTimeout(),
		Progress:  cfg.Fetch.Progress,
	})

	searchers := resolver.DefaultLocations().Searchers()
	searchers = append(searchers, resolver.RemoteSearcher{Fetcher: fetcher})

	return &Generator{Fetcher: fetcher, Searchers: searchers}, nil
}

// Generate evaluates the script and returns the rendered Makefile.
func (g *Generator) Generate(ctx context.Context, in Input) (string, error) {
	sb := sandbox.New(sandbox.Options{
		Searchers: g.Searchers,
		Args:      in.Args,
		Version:   Version,
	})

	name := in.Name
	if name == "" {
		name = DefaultInput
	}

	raw, err := sb.Evaluate(ctx, in.Source, name, in.BaseDir)
	if err != nil {
		return "", err
	}

	file, err := normalize.Normalize(raw)
	if err != nil {
		return "", err
	}

	return makefile.Render(file), nil
}

// GenerateFile reads the script at inputPath and writes the Makefile to outputPath. Nothing is
// written if any step fails.
func (g *Generator) GenerateFile(ctx context.Context, inputPath, outputPath string, args []string) error {
	source, err := os.ReadFile(inputPath)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return &InputNotFoundError{Path: inputPath}
		}
		return eris.Wrapf(err, "failed to read %s", inputPath)
	}

	text, err := g.Generate(ctx, Input{
		Source:  source,
		Name:    filepath.Base(inputPath),
		BaseDir: filepath.Dir(inputPath),
		Args:    args,
	})
	if err != nil {
		return err
	}

	return WriteFile(ctx, outputPath, text)
}

// FindInput looks for name in dir and its parents.
func FindInput(dir, name string) (string, error) {
	path := dir
	for {
		candidate := filepath.Join(path, name)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", candidate)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", &InputNotFoundError{Path: name}
		}

		path = parent
	}
}

// DefaultOutput returns the Makefile path next to inputPath.
func DefaultOutput(inputPath string) string {
	return filepath.Join(filepath.Dir(inputPath), "Makefile")
}
