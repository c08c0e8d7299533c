// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"fmt"
	"io"
)

// LogLevel controls the verbosity of the iteration output.
type LogLevel int

const (
	// LogNone suppresses all output.
	LogNone LogLevel = iota
	// LogIter prints one line per major iteration.
	LogIter
	// LogTrace additionally prints line search and GMRES inner iterations.
	LogTrace
)

// Logger writes the optimizer iteration history. The iteration table and
// trace output are written only on the optimization root rank; messages
// about failed problem evaluations are written on every rank that reaches
// them with a non-nil Logger.
type Logger struct {
	Level LogLevel
	Out   io.Writer // Writer for the iteration table and messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l != nil && l.Out != nil && l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if l == nil || l.Out == nil {
		return
	}
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}
