package resolver

import (
	"fmt"
	"strings"
)

// ModuleNotFoundError is returned when no searcher could resolve a module. Diagnostics holds
// one message per searcher, in the order they were tried.
type ModuleNotFoundError struct {
	Name        string
	Diagnostics []string
}

var _ error = (*ModuleNotFoundError)(nil)

func (e *ModuleNotFoundError) Error() string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "module '%s' not found:", e.Name)
	for _, diag := range e.Diagnostics {
		for _, line := range strings.Split(diag, "\n") {
			msg.WriteString("\n\t")
			msg.WriteString(line)
		}
	}
	return msg.String()
}
