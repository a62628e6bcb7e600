package fetch

import "fmt"

// Error is returned when a package could not be downloaded or unpacked.
type Error struct {
	Coordinate Coordinate
	URL        string
	Err        error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("failed to fetch %s: %v", e.Coordinate, e.Err)
	}
	return fmt.Sprintf("failed to fetch %s from %s: %v", e.Coordinate, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
