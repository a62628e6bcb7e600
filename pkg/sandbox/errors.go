package sandbox

// ScriptError is a syntax or runtime error raised by the interpreter. Message carries the
// interpreter's own "chunk:line:" location prefix.
type ScriptError struct {
	Message   string
	Traceback string
	Syntax    bool
}

var _ error = (*ScriptError)(nil)

func (e *ScriptError) Error() string {
	return e.Message
}
