package sandbox

import (
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/syntax"
)

// shellSpecial lists the characters that force an argument into single quotes. '$' is not in it
// and make references like $(CC) are skipped before checking, so make expands them unquoted.
const shellSpecial = " \t\n'\"\\|&;<>()*?#~`!{}[]"

// buildCommand turns command parts into a single shell command line. Leading NAME=value parts
// become environment assignments.
func buildCommand(parser *syntax.Parser, printer *syntax.Printer, parts []string) (string, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		if !isAssignment(part) {
			break
		}
		envVars = append(envVars, part)
	}

	var cmd *syntax.CallExpr
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return "", eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return "", eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return "", eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	for _, arg := range parts[len(envVars):] {
		cmd.Args = append(cmd.Args, quoteWord(arg))
	}

	var buf strings.Builder
	err := printer.Print(&buf, cmd)
	if err != nil {
		return "", eris.Wrap(err, "failed to print command")
	}

	return buf.String(), nil
}

func isAssignment(part string) bool {
	idx := strings.IndexByte(part, '=')
	if idx < 1 {
		return false
	}

	for i, c := range part[:idx] {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

func quoteWord(value string) *syntax.Word {
	if value != "" && !strings.ContainsAny(stripMakeRefs(value), shellSpecial) {
		return &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: value}}}
	}

	// single quotes can't be escaped inside single quotes, so they're emitted as \' between
	// quoted segments
	var parts []syntax.WordPart
	for idx, segment := range strings.Split(value, "'") {
		if idx > 0 {
			parts = append(parts, &syntax.Lit{Value: `\'`})
		}
		if segment != "" {
			parts = append(parts, &syntax.SglQuoted{Value: segment})
		}
	}
	if len(parts) == 0 {
		parts = append(parts, &syntax.SglQuoted{Value: ""})
	}

	return &syntax.Word{Parts: parts}
}

// stripMakeRefs removes balanced $(...) and ${...} references. "$$" is make's escaped dollar and
// is kept, so "$$(cmd)" still counts as shell syntax.
func stripMakeRefs(value string) string {
	var out strings.Builder
	for idx := 0; idx < len(value); idx++ {
		c := value[idx]
		if c != '$' || idx+1 == len(value) {
			out.WriteByte(c)
			continue
		}

		next := value[idx+1]
		if next == '$' {
			out.WriteString("$$")
			idx++
			continue
		}

		var closing byte
		switch next {
		case '(':
			closing = ')'
		case '{':
			closing = '}'
		default:
			out.WriteByte(c)
			continue
		}

		depth := 0
		end := -1
		for pos := idx + 1; pos < len(value); pos++ {
			if value[pos] == next {
				depth++
			} else if value[pos] == closing {
				depth--
				if depth == 0 {
					end = pos
					break
				}
			}
		}
		if end == -1 {
			out.WriteByte(c)
			continue
		}
		idx = end
	}
	return out.String()
}
