package filter

// Logger is an optional structured-logging hook the state machine
// calls around each command dispatch, mirroring the advisory tracing
// spans the protocol core's reference implementation wraps each
// dispatch in (spec.md §9) without the core depending on any
// particular logging library. A nil Logger is a no-op.
type Logger func(event string, fields map[string]any)

func (l Logger) log(event string, fields map[string]any) {
	if l != nil {
		l(event, fields)
	}
}
