package normalize

import "fmt"

// SchemaError reports a value that is not a valid statement. Path locates it inside the script
// result, e.g. "$[2][1].c.targets[3]".
type SchemaError struct {
	Tag    string
	Path   string
	Reason string
}

var _ error = (*SchemaError)(nil)

func (e *SchemaError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("invalid statement at %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid %s statement at %s: %s", e.Tag, e.Path, e.Reason)
}
