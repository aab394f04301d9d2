package log

import (
	"runtime"

	"github.com/rs/zerolog"
)

// stackHook attaches a caller stack to error-level events so failures in the
// crawl's fan-out goroutines can be traced back to their origin.
type stackHook struct{}

func (h *stackHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if level < zerolog.ErrorLevel {
		return
	}

	arr := zerolog.Arr()
	for _, frame := range callerFrames(5) {
		arr.Dict(zerolog.Dict().
			Int("line", frame.Line).
			Str("file", frame.File).
			Str("function", frame.Function),
		)
	}
	e.Array("stack", arr)
}

type stackFrame struct {
	Line     int
	File     string
	Function string
}

func callerFrames(skip int) []stackFrame {
	const depth = 64
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	st := make([]stackFrame, 0, n)
	for {
		frame, ok := frames.Next()
		st = append(st, stackFrame{
			Line:     frame.Line,
			File:     frame.File,
			Function: frame.Function,
		})
		if !ok {
			break
		}
	}

	return st
}
