// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package output writes the machine-readable (--json) form of CLI results.
//
// Human-readable output lives in the ui package. Commands pick one of the
// two at the top:
//
//	if jsonOut {
//	    return output.JSONTo(stdout, summary)
//	}
//	ui.Header("Index Status")
//
// JSONErrorTo is the --json counterpart of UserError.Format.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	cerrors "github.com/kraklabs/codevec/internal/errors"
)

// JSONTo writes data as indented JSON to w.
func JSONTo(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("JSON encoding failed: %w", err)
	}
	return nil
}

// ErrorJSON is the --json form of a failed command.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// NewErrorJSON describes err, carrying the cause, fix and exit code of a
// wrapped UserError when there is one.
func NewErrorJSON(err error) ErrorJSON {
	if ue, ok := cerrors.As(err); ok {
		return ErrorJSON{Error: ue.Message, Cause: ue.Cause, Fix: ue.Fix, ExitCode: ue.ExitCode}
	}
	return ErrorJSON{Error: err.Error(), ExitCode: cerrors.ExitInternal}
}

// JSONErrorTo writes err as JSON to w.
func JSONErrorTo(w io.Writer, err error) error {
	if encErr := JSONTo(w, NewErrorJSON(err)); encErr != nil {
		return fmt.Errorf("JSON error encoding failed: %w", encErr)
	}
	return nil
}
