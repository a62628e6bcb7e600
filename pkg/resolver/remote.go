package resolver

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/epine-build/epine/pkg/fetch"
	"github.com/epine-build/epine/pkg/output"
)

// RemoteSigil marks a module name as a package coordinate ("@owner/repo/ref").
const RemoteSigil = "@"

// Fetcher materializes a package coordinate into a local directory.
type Fetcher interface {
	Fetch(ctx context.Context, c fetch.Coordinate) (string, error)
}

// RemoteSearcher resolves "@owner/repo/ref" by fetching the package and loading its init module.
type RemoteSearcher struct {
	Fetcher Fetcher
}

var _ Searcher = RemoteSearcher{}

func (s RemoteSearcher) Search(ctx context.Context, name string) (*Module, error) {
	if !strings.HasPrefix(name, RemoteSigil) {
		return nil, eris.Errorf("'%s' is not a package coordinate", name)
	}

	coord, err := fetch.ParseCoordinate(strings.TrimPrefix(name, RemoteSigil))
	if err != nil {
		return nil, err
	}

	dir, err := s.Fetcher.Fetch(ctx, coord)
	if err != nil {
		output.Log(ctx).Warn().Err(err).Msgf("Could not fetch %s", coord)
		return nil, err
	}

	mod, err := LocalSearcher{Root: dir}.Search(ctx, "init")
	if err != nil {
		return nil, eris.Wrapf(err, "package %s has no init module", coord)
	}

	mod.Name = name
	mod.Remote = true
	return mod, nil
}

func (s RemoteSearcher) String() string {
	return "remote"
}
