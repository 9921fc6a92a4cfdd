// Package dtllog is a thin per-component wrapper over the standard
// library logger, matching the teacher's direct stdlib log usage
// (lipandr-go-microsrv-distib-log/internal/cmd/server/main.go's
// log.Fatal) rather than introducing a structured logging dependency
// the corpus never reaches for at this project's scale.
package dtllog

import (
	"log"
	"os"
)

// Logger tags every line with a component name.
type Logger struct {
	component string
	std       *log.Logger
}

// New returns a Logger writing to os.Stderr, tagged with component.
func New(component string) *Logger {
	return &Logger{
		component: component,
		std:       log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// WithOutput redirects this logger's destination, used by
// --daemonize to send log output to a file instead of the console.
func (l *Logger) WithOutput(f *os.File) {
	l.std.SetOutput(f)
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf("["+l.component+"] "+format, args...)
}

func (l *Logger) Println(args ...any) {
	all := append([]any{"[" + l.component + "]"}, args...)
	l.std.Println(all...)
}
