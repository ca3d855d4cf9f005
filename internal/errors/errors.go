// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package errors provides structured error handling for the codevec CLI.
//
// UserError carries what went wrong, why, and how to fix it, plus the exit
// code the process should end with. Library packages return ordinary
// wrapped errors; the CLI converts them to UserError at the command
// boundary, prints them and exits with ExitCode.
//
//	err := errors.NewNetworkError(
//	    "Cannot reach the embedding backend",
//	    "Connection refused at http://localhost:11434",
//	    "Start Ollama or set embedding.endpoint in codevec.yaml",
//	    underlyingErr,
//	)
//
// Format renders the error for a terminal:
//
//	Error: Cannot reach the embedding backend
//	Cause: Connection refused at http://localhost:11434
//	Fix:   Start Ollama or set embedding.endpoint in codevec.yaml
//
// # Exit Codes
//
//   - ExitSuccess (0): Successful execution
//   - ExitConfig (1): Missing or invalid codevec.yaml, dimension mismatches
//   - ExitDatabase (2): Vector store errors (unreachable, locked, rejected writes)
//   - ExitNetwork (3): Embedding backend errors (connection failed, timeout)
//   - ExitInput (4): Invalid user input (bad arguments, unreadable artifacts)
//   - ExitPermission (5): Permission denied
//   - ExitNotFound (6): Missing collection, run or file
//   - ExitInternal (10): Internal errors (bugs, panics)
package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Process exit codes.
const (
	ExitSuccess    = 0
	ExitConfig     = 1
	ExitDatabase   = 2
	ExitNetwork    = 3
	ExitInput      = 4
	ExitPermission = 5
	ExitNotFound   = 6

	// ExitInternal means "this is a bug that should be reported".
	ExitInternal = 10
)

// UserError is an error with a user-facing message, a diagnostic cause, a
// suggested fix and the exit code to end the process with. Err, when set,
// keeps the original error reachable through errors.Is and errors.As.
type UserError struct {
	Message  string
	Cause    string
	Fix      string
	ExitCode int
	Err      error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }

func newUserError(code int, msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: code, Err: err}
}

// NewConfigError reports a missing or invalid codevec.yaml, or a setting
// that disagrees with the backends (for example embedding.dimension).
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitConfig, msg, cause, fix, err)
}

// NewDatabaseError reports a vector store failure: an unreachable server, a
// locked bolt file or a rejected upsert.
func NewDatabaseError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitDatabase, msg, cause, fix, err)
}

// NewNetworkError reports an unreachable or failing embedding backend.
func NewNetworkError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitNetwork, msg, cause, fix, err)
}

// NewInputError reports bad arguments or an unreadable input artifact.
func NewInputError(msg, cause, fix string) *UserError {
	return newUserError(ExitInput, msg, cause, fix, nil)
}

// NewPermissionError reports a file system permission failure.
func NewPermissionError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitPermission, msg, cause, fix, err)
}

// NewNotFoundError reports a missing collection, run or file.
func NewNotFoundError(msg, cause, fix string) *UserError {
	return newUserError(ExitNotFound, msg, cause, fix, nil)
}

// NewInternalError reports a failure codevec has no better classification
// for. These are treated as bugs.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitInternal, msg, cause, fix, err)
}

// Format renders the error as Error/Cause/Fix lines, skipping an empty
// Cause or Fix. Labels are colored unless noColor is set or NO_COLOR is
// present in the environment.
func (e *UserError) Format(noColor bool) string {
	plain := noColor || os.Getenv("NO_COLOR") != ""
	label := func(c *color.Color, s string) string {
		if plain {
			return s
		}
		c.EnableColor()
		return c.Sprint(s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", label(color.New(color.FgRed, color.Bold), "Error: "), e.Message)
	if e.Cause != "" {
		fmt.Fprintf(&b, "%s%s\n", label(color.New(color.FgYellow), "Cause: "), e.Cause)
	}
	if e.Fix != "" {
		fmt.Fprintf(&b, "%s%s\n", label(color.New(color.FgGreen), "Fix:   "), e.Fix)
	}
	return b.String()
}

// As returns the UserError in err's chain, if any.
func As(err error) (*UserError, bool) {
	var ue *UserError
	if stderrors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// ExitCode returns the exit code for err: the UserError's code when err
// wraps one, ExitSuccess for nil, and ExitInternal otherwise.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if ue, ok := As(err); ok {
		return ue.ExitCode
	}
	return ExitInternal
}
