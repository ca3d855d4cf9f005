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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

// Provider generates embeddings for code text.
type Provider interface {
	// Embed returns a vector for text. Providers normalize to unit length.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryEmbedder is implemented by providers whose models embed queries
// differently from documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Provider  string
	Endpoint  string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
}

// NewProvider creates a provider from cfg.
// Supported providers:
//   - "mock": deterministic token-hashing vectors of cfg.Dimension
//   - "ollama": local Ollama server (default http://localhost:11434)
//   - "openai": OpenAI or any compatible /embeddings endpoint
//   - "llamacpp": llama.cpp server started with --embedding
//   - "nomic": Nomic Atlas API
func NewProvider(cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "mock":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 384
		}
		return NewMockProvider(dim), nil

	case "ollama", "":
		endpoint := firstNonEmpty(cfg.Endpoint, "http://localhost:11434")
		model := firstNonEmpty(cfg.Model, "nomic-embed-text")
		return NewOllamaProvider(endpoint, model, cfg.Timeout, logger), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key is required for openai provider (set embedding.api_key or OPENAI_API_KEY)")
		}
		endpoint := firstNonEmpty(cfg.Endpoint, "https://api.openai.com/v1")
		model := firstNonEmpty(cfg.Model, "text-embedding-3-small")
		return NewOpenAIProvider(cfg.APIKey, endpoint, model, cfg.Timeout, logger), nil

	case "llamacpp":
		endpoint := firstNonEmpty(cfg.Endpoint, "http://localhost:8090")
		return NewLlamaCppProvider(endpoint, cfg.Timeout, logger), nil

	case "nomic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key is required for nomic provider")
		}
		endpoint := firstNonEmpty(cfg.Endpoint, "https://api-atlas.nomic.ai/v1")
		model := firstNonEmpty(cfg.Model, "nomic-embed-text-v1.5")
		return NewNomicProvider(cfg.APIKey, endpoint, model, cfg.Timeout, logger), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, ollama, openai, llamacpp, nomic)", cfg.Provider)
	}
}

func firstNonEmpty(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func newHTTPClient(timeout, def time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = def
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body to url and returns the raw response body. Non-200
// responses become *StatusError with the message extracted by errMsg.
func postJSON(ctx context.Context, client *http.Client, provider, url, bearer string, body any, errMsg func([]byte) string) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s http request (%s): %w", provider, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := ""
		if errMsg != nil {
			msg = errMsg(respBody)
		}
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return nil, &StatusError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	}
	return respBody, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// =============================================================================
// MOCK PROVIDER
// =============================================================================

// MockProvider is a deterministic bag-of-words model: each identifier token
// is hashed into one of Dimension buckets with a hashed sign. Texts sharing
// vocabulary score high under cosine similarity, which is enough for tests
// and offline runs.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock provider producing vectors of dimension.
func NewMockProvider(dimension int) *MockProvider {
	return &MockProvider{dimension: dimension}
}

// Dimension returns the vector length.
func (m *MockProvider) Dimension() int { return m.dimension }

// Embed hashes the tokens of text into a normalized vector.
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, m.dimension)
	if m.dimension == 0 {
		return vec, nil
	}
	tokens := Tokenize(text)
	for _, tok := range tokens {
		h := hashString(tok)
		idx := int(h % uint64(m.dimension))
		if (h>>33)&1 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	if len(tokens) == 0 {
		vec[int(hashString(text)%uint64(m.dimension))] = 1
	}
	return normalizeEmbedding(vec), nil
}

// Tokenize splits text into lowercase identifier parts. camelCase and
// snake_case names are split into their words.
func Tokenize(text string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range text {
		switch {
		case isLower(r) || isDigit(r):
			cur = append(cur, r)
		case isUpper(r):
			if isLower(prev) || isDigit(prev) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return out
}

func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func hashString(s string) uint64 {
	var hash uint64 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint64(c)
	}
	return hash
}

// =============================================================================
// OLLAMA PROVIDER
// =============================================================================

// OllamaProvider generates embeddings using a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// isNomicModel reports whether the model uses the asymmetric
// search_document/search_query prefixes.
func isNomicModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "nomic")
}

// isQodoModel reports whether the model expects an instruction on queries.
func isQodoModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "qodo")
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(baseURL, model string, timeout time.Duration, logger *slog.Logger) *OllamaProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: newHTTPClient(timeout, 120*time.Second), // local models may be slow
		logger:     logger,
	}
}

// Embed embeds a document.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if isNomicModel(o.model) {
		text = "search_document: " + text
	}
	return o.embed(ctx, text)
}

// EmbedQuery embeds a search query.
func (o *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if isNomicModel(o.model) {
		text = "search_query: " + text
	}
	return o.embed(ctx, text)
}

func (o *OllamaProvider) embed(ctx context.Context, prompt string) ([]float32, error) {
	body, err := postJSON(ctx, o.httpClient, "ollama", o.baseURL+"/api/embeddings", "",
		ollamaEmbedRequest{Model: o.model, Prompt: prompt}, jsonField("error"))
	if err != nil {
		return nil, err
	}
	var resp ollamaEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}
	return normalizeEmbedding(toFloat32(resp.Embedding)), nil
}

// =============================================================================
// OPENAI-COMPATIBLE PROVIDER
// =============================================================================

// OpenAIProvider generates embeddings using OpenAI or a compatible API.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type openAIEmbedRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(apiKey, baseURL, model string, timeout time.Duration, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: newHTTPClient(timeout, 60*time.Second),
		logger:     logger,
	}
}

// Embed embeds a document as-is.
func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return o.embed(ctx, text)
}

// EmbedQuery embeds a search query. Qodo-Embed models get the retrieval
// instruction they were trained with.
func (o *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if isQodoModel(o.model) {
		text = "Instruct: Given a question, retrieve relevant code\nQuery: " + text
	}
	return o.embed(ctx, text)
}

func (o *OpenAIProvider) embed(ctx context.Context, input string) ([]float32, error) {
	body, err := postJSON(ctx, o.httpClient, "openai", o.baseURL+"/embeddings", o.apiKey,
		openAIEmbedRequest{Input: input, Model: o.model, EncodingFormat: "float"}, openAIErrorMessage)
	if err != nil {
		return nil, err
	}
	var resp openAIEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned empty embedding")
	}
	return normalizeEmbedding(toFloat32(resp.Data[0].Embedding)), nil
}

func openAIErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Error.Message
	}
	return ""
}

// =============================================================================
// LLAMACPP PROVIDER
// =============================================================================

// LlamaCppProvider generates embeddings using a llama.cpp server
// (llama-server --embedding -m model.gguf).
type LlamaCppProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type llamaCppEmbedRequest struct {
	Content string `json:"content"`
}

type llamaCppEmbedResponse struct {
	Index     int         `json:"index"`
	Embedding [][]float64 `json:"embedding"`
}

// NewLlamaCppProvider creates a llama.cpp provider.
func NewLlamaCppProvider(baseURL string, timeout time.Duration, logger *slog.Logger) *LlamaCppProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LlamaCppProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout, 120*time.Second),
		logger:     logger,
	}
}

// Embed embeds text as-is.
func (l *LlamaCppProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := postJSON(ctx, l.httpClient, "llama.cpp", l.baseURL+"/embedding", "",
		llamaCppEmbedRequest{Content: text}, nil)
	if err != nil {
		return nil, err
	}
	// llama.cpp returns an array of results with a nested vector array.
	var resps []llamaCppEmbedResponse
	if err := json.Unmarshal(body, &resps); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resps) == 0 || len(resps[0].Embedding) == 0 || len(resps[0].Embedding[0]) == 0 {
		return nil, fmt.Errorf("llama.cpp returned empty embedding")
	}
	return normalizeEmbedding(toFloat32(resps[0].Embedding[0])), nil
}

// =============================================================================
// NOMIC PROVIDER
// =============================================================================

// NomicProvider generates embeddings using the Nomic Atlas API.
type NomicProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type nomicEmbedRequest struct {
	Texts    []string `json:"texts"`
	Model    string   `json:"model"`
	TaskType string   `json:"task_type,omitempty"`
}

type nomicEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewNomicProvider creates a Nomic Atlas provider.
func NewNomicProvider(apiKey, baseURL, model string, timeout time.Duration, logger *slog.Logger) *NomicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &NomicProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: newHTTPClient(timeout, 60*time.Second),
		logger:     logger,
	}
}

// Embed embeds a document.
func (n *NomicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return n.embed(ctx, text, "search_document")
}

// EmbedQuery embeds a search query.
func (n *NomicProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return n.embed(ctx, text, "search_query")
}

func (n *NomicProvider) embed(ctx context.Context, text, task string) ([]float32, error) {
	body, err := postJSON(ctx, n.httpClient, "nomic", n.baseURL+"/embedding/text", n.apiKey,
		nomicEmbedRequest{Texts: []string{text}, Model: n.model, TaskType: task}, jsonField("detail"))
	if err != nil {
		return nil, err
	}
	var resp nomicEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("nomic returned empty embeddings")
	}
	return normalizeEmbedding(toFloat32(resp.Embeddings[0])), nil
}

// jsonField extracts a top-level string field from an error body.
func jsonField(name string) func([]byte) string {
	return func(body []byte) string {
		var m map[string]any
		if json.Unmarshal(body, &m) != nil {
			return ""
		}
		s, _ := m[name].(string)
		return s
	}
}

// normalizeEmbedding scales embedding to unit length in place.
func normalizeEmbedding(embedding []float32) []float32 {
	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return embedding
	}
	normf := float32(math.Sqrt(norm))
	for i := range embedding {
		embedding[i] /= normf
	}
	return embedding
}
