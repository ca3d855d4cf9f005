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

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func l2(v []float32) float64 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	return math.Sqrt(norm)
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestMockProvider_Embed(t *testing.T) {
	provider := NewMockProvider(384)

	ctx := context.Background()
	text := "func main() { fmt.Println(\"Hello, World!\") }"

	embedding, err := provider.Embed(ctx, text)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(embedding) != 384 {
		t.Errorf("Embed() dimension = %d, want 384", len(embedding))
	}
	if math.Abs(l2(embedding)-1.0) > 0.001 {
		t.Errorf("Embed() L2 norm = %f, want ~1.0", l2(embedding))
	}

	embedding2, err := provider.Embed(ctx, text)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for i := range embedding {
		if embedding[i] != embedding2[i] {
			t.Errorf("Embed() not deterministic at index %d: %f != %f", i, embedding[i], embedding2[i])
			break
		}
	}

	embedding3, err := provider.Embed(ctx, "different text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	same := true
	for i := range embedding {
		if embedding[i] != embedding3[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Embed() should produce different embeddings for different texts")
	}
}

func TestMockProvider_SharedVocabularyScoresHigher(t *testing.T) {
	p := NewMockProvider(256)
	ctx := context.Background()

	doc, err := p.Embed(ctx, "func reconcileLedger(entries []Entry) { checksum := ledgerChecksum(entries) }")
	require.NoError(t, err)
	other, err := p.Embed(ctx, "def render_template(name): return jinja.load(name)")
	require.NoError(t, err)
	query, err := p.Embed(ctx, "reconcile ledger checksum")
	require.NoError(t, err)

	assert.Greater(t, cosine(query, doc), cosine(query, other))
}

func TestMockProvider_EmptyText(t *testing.T) {
	vec, err := NewMockProvider(8).Embed(context.Background(), "")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, l2(vec), 1e-6)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"computeTotal", []string{"compute", "total"}},
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"HTTPServer v2", []string{"httpserver", "v2"}},
		{"a.b(c)", []string{"a", "b", "c"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestNormalizeEmbedding(t *testing.T) {
	tests := []struct {
		name  string
		input []float32
	}{
		{name: "typical vector", input: []float32{1.0, 2.0, 3.0, 4.0, 5.0}},
		{name: "already normalized", input: []float32{0.5773, 0.5773, 0.5773}},
		{name: "large values", input: []float32{1000.0, 2000.0, 3000.0}},
		{name: "negative values", input: []float32{-1.0, 2.0, -3.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizeEmbedding(tt.input)
			if math.Abs(l2(result)-1.0) > 0.001 {
				t.Errorf("normalizeEmbedding() L2 norm = %f, want ~1.0", l2(result))
			}
		})
	}
}

func TestNormalizeEmbedding_ZeroVector(t *testing.T) {
	result := normalizeEmbedding([]float32{0.0, 0.0, 0.0})
	for i, v := range result {
		if v != 0.0 {
			t.Errorf("normalizeEmbedding() expected 0.0 at index %d, got %f", i, v)
		}
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{name: "mock", cfg: ProviderConfig{Provider: "mock", Dimension: 16}},
		{name: "ollama default", cfg: ProviderConfig{Provider: "ollama"}},
		{name: "empty means ollama", cfg: ProviderConfig{}},
		{name: "llamacpp", cfg: ProviderConfig{Provider: "llamacpp"}},
		{name: "openai requires key", cfg: ProviderConfig{Provider: "openai"}, wantErr: true},
		{name: "openai with key", cfg: ProviderConfig{Provider: "openai", APIKey: "sk-test"}},
		{name: "nomic requires key", cfg: ProviderConfig{Provider: "nomic"}, wantErr: true},
		{name: "unknown", cfg: ProviderConfig{Provider: "word2vec"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}
}

func TestOllamaProvider_NomicPrefixes(t *testing.T) {
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompts = append(prompts, req.Prompt)
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{3, 4}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 0, nil)
	vec, err := p.Embed(context.Background(), "code")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vec, 1e-6)

	_, err = p.EmbedQuery(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, []string{"search_document: code", "search_query: question"}, prompts)
}

func TestOpenAIProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL, "text-embedding-3-small", 0, nil)
	_, err := p.Embed(context.Background(), "x")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "rate limited", se.Message)
}

func TestLlamaCppProvider_NestedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embedding", r.URL.Path)
		_, _ = w.Write([]byte(`[{"index":0,"embedding":[[0,2]]}]`))
	}))
	defer srv.Close()

	vec, err := NewLlamaCppProvider(srv.URL, 0, nil).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 1}, vec, 1e-6)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantRetryable   bool
		wantUnavailable bool
	}{
		{"429", &StatusError{StatusCode: 429}, true, false},
		{"500", &StatusError{StatusCode: 500}, true, false},
		{"503", &StatusError{StatusCode: 503}, true, true},
		{"400", &StatusError{StatusCode: 400}, false, false},
		{"refused", errors.New("dial tcp: connection refused"), true, true},
		{"timeout text", errors.New("i/o timeout"), true, false},
		{"canceled", context.Canceled, false, false},
		{"other", errors.New("parse response: bad json"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, u := classifyError(tt.err)
			assert.Equal(t, tt.wantRetryable, r)
			assert.Equal(t, tt.wantUnavailable, u)
		})
	}
}
