package epine

import "fmt"

// InputNotFoundError is returned if no script could be located.
type InputNotFoundError struct {
	Path string
}

func (e *InputNotFoundError) Error() string {
	return fmt.Sprintf("no %s file found", e.Path)
}
