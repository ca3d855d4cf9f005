// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	cerrors "github.com/kraklabs/codevec/internal/errors"
)

func TestJSONTo(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{"project": "shop", "vectors_written": 42}

	if err := JSONTo(&buf, data); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "  \"project\": \"shop\"") {
		t.Errorf("expected 2-space indented project field, got: %s", out)
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Errorf("expected trailing newline, got: %q", out)
	}
}

func TestJSONTo_Unencodable(t *testing.T) {
	var buf bytes.Buffer
	err := JSONTo(&buf, map[string]any{"ch": make(chan int)})
	if err == nil || !strings.Contains(err.Error(), "JSON encoding failed") {
		t.Errorf("expected encoding error, got %v", err)
	}
}

func TestJSONErrorTo(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorJSON
	}{
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: ErrorJSON{Error: "boom", ExitCode: cerrors.ExitInternal},
		},
		{
			name: "wrapped user error",
			err: fmt.Errorf("index: %w", cerrors.NewNetworkError(
				"Cannot reach embedding backend", "connection refused", "Start Ollama", errors.New("dial"))),
			want: ErrorJSON{Error: "Cannot reach embedding backend", Cause: "connection refused", Fix: "Start Ollama", ExitCode: cerrors.ExitNetwork},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := JSONErrorTo(&buf, tt.err); err != nil {
				t.Fatalf("JSONErrorTo failed: %v", err)
			}
			var got ErrorJSON
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("invalid JSON %q: %v", buf.String(), err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
