package adb

import "strings"

// ErrorKind classifies a failed command.
type ErrorKind string

const (
	ErrorNone          ErrorKind = ""
	ErrorCannotConnect ErrorKind = "cannot_connect"
	ErrorTimeout       ErrorKind = "timeout"
	ErrorUnknown       ErrorKind = "unknown"
)

// Result is the outcome of exactly one command execution.
type Result struct {
	Success bool
	Stdout  string
	Stderr  string
	Error   ErrorKind
}

func okResult(stdout string) Result {
	return Result{Success: true, Stdout: stdout}
}

func failResult(kind ErrorKind, msg string) Result {
	return Result{Error: kind, Stderr: msg}
}

// Output returns trimmed stdout, or "" for failed results.
func (r Result) Output() string {
	if !r.Success {
		return ""
	}
	return strings.TrimSpace(r.Stdout)
}
