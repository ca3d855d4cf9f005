// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	cerrors "github.com/kraklabs/codevec/internal/errors"
	"github.com/kraklabs/codevec/internal/output"
	"github.com/kraklabs/codevec/pkg/embedding"
	"github.com/kraklabs/codevec/pkg/ingestion"
	"github.com/kraklabs/codevec/pkg/pipeline"
	"github.com/kraklabs/codevec/pkg/retrieval"
	"github.com/kraklabs/codevec/pkg/vectorindex"
)

// toUserError converts a library error into a UserError with a cause and a
// suggested fix. action names what was being attempted, e.g. "Index".
func toUserError(err error, action string) error {
	if err == nil {
		return nil
	}
	if _, ok := cerrors.As(err); ok {
		return err
	}

	cause := err.Error()
	var (
		embedDim  *embedding.DimensionMismatchError
		indexDim  *vectorindex.DimensionMismatchError
		backend   *embedding.BackendError
		embStatus *embedding.StatusError
		vecStatus *vectorindex.StatusError
		opErr     *net.OpError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return cerrors.NewInputError(action+" interrupted", "The run was cancelled before it finished", "Re-run the command; the next run rebuilds the collection from scratch")
	case errors.Is(err, retrieval.ErrInvalidOptions):
		return cerrors.NewInputError("Invalid search options", cause, "Use --top-k >= 0 and --per-file >= 0")
	case errors.Is(err, vectorindex.ErrStoreLocked):
		return cerrors.NewDatabaseError(
			"Index database is in use",
			cause,
			"Wait for the running codevec command to finish",
			err,
		)
	case errors.Is(err, pipeline.ErrLocked):
		return cerrors.NewDatabaseError(
			"Another index run is in progress",
			cause,
			"Wait for the other run to finish, or remove the stale lock in .codevec/locks",
			err,
		)
	case errors.As(err, &embedDim), errors.As(err, &indexDim):
		return cerrors.NewConfigError(
			"Embedding dimension mismatch",
			cause,
			"Set embedding.dimension in codevec.yaml to the output size of the embedding model",
			err,
		)
	case errors.Is(err, ingestion.ErrUnsupportedLanguage):
		return cerrors.NewConfigError(action+" failed", cause, "Remove the language from graph.languages", err)
	case errors.As(err, &embStatus) && (embStatus.StatusCode == 401 || embStatus.StatusCode == 403):
		return cerrors.NewConfigError(
			"Embedding backend rejected the credentials",
			cause,
			"Check embedding.api_key or OPENAI_API_KEY",
			err,
		)
	case errors.Is(err, embedding.ErrBackendUnavailable), errors.As(err, &backend), embStatus != nil:
		return cerrors.NewNetworkError(
			"Embedding backend unavailable",
			cause,
			"Make sure the embedding server is running and embedding.endpoint is correct",
			err,
		)
	case errors.Is(err, vectorindex.ErrCollectionNotFound):
		return cerrors.NewNotFoundError(
			"Collection not found",
			cause,
			"Run 'codevec index' to build it",
		)
	case errors.As(err, &vecStatus):
		return cerrors.NewDatabaseError(
			"Vector database request failed",
			cause,
			"Check that the vector database is running and index.url is correct",
			err,
		)
	case errors.As(err, &opErr):
		return cerrors.NewNetworkError(
			"Backend unreachable",
			cause,
			"Check that the vector database and embedding server are running",
			err,
		)
	case errors.Is(err, pipeline.ErrNoRuns):
		return cerrors.NewNotFoundError("No index runs recorded", cause, "Run 'codevec index' first")
	}

	var se *pipeline.StageError
	if errors.As(err, &se) {
		return cerrors.NewInternalError(
			fmt.Sprintf("%s failed during the %s stage", action, se.Stage),
			cause,
			"Re-run with --debug for details; summary.json in the run directory records the failure",
			err,
		)
	}
	return cerrors.NewInternalError(action+" failed", cause, "Re-run with --debug for details", err)
}

// reportError writes err to w, as JSON when jsonOut is set and as
// Error/Cause/Fix lines otherwise, and returns the process exit code.
func reportError(w io.Writer, err error, jsonOut, noColor bool) int {
	code := cerrors.ExitCode(err)
	if jsonOut {
		if encErr := output.JSONErrorTo(w, err); encErr == nil {
			return code
		}
	}
	if ue, ok := cerrors.As(err); ok {
		fmt.Fprint(w, ue.Format(noColor))
	} else {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	return code
}
