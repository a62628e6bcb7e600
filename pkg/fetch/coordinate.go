package fetch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Coordinate identifies a remotely hosted package.
type Coordinate struct {
	Owner      string
	Repository string
	Ref        string
}

// ParseCoordinate parses "owner/repo/ref". It never touches the network or the disk.
func ParseCoordinate(value string) (Coordinate, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 3 {
		return Coordinate{}, eris.Errorf("invalid package coordinate %q: expected owner/repository/ref", value)
	}

	for idx, part := range parts {
		if part == "" {
			return Coordinate{}, eris.Errorf("invalid package coordinate %q: component %d is empty", value, idx+1)
		}
		if part == "." || part == ".." {
			return Coordinate{}, eris.Errorf("invalid package coordinate %q: component %d is %q", value, idx+1, part)
		}
	}

	return Coordinate{Owner: parts[0], Repository: parts[1], Ref: parts[2]}, nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Owner, c.Repository, c.Ref)
}

// CachePath returns the directory the package is stored in below root.
func (c Coordinate) CachePath(root string) string {
	return filepath.Join(root, "github", "@"+c.Owner, c.Repository, c.Ref)
}
