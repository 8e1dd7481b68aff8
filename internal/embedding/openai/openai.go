package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"podsearch/internal/domain"
)

// Default configuration values for OpenAI-compatible endpoints.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "text-embedding-3-small"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 4
)

// Known output dimensions per model.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Config configures the remote embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	Dimension  int
	MaxRetries uint64
}

// Client is an OpenAI-compatible embeddings client. Transient failures
// (timeouts, rate limits, 5xx) are retried with exponential backoff up to
// a bounded attempt count; other HTTP errors surface immediately.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	maxRetries uint64
	client     *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	dim := cfg.Dimension
	if dim == 0 {
		var ok bool
		if dim, ok = modelDimensions[cfg.Model]; !ok {
			return nil, fmt.Errorf("unknown model %q: set dimension explicitly", cfg.Model)
		}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimension:  dim,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the logical provider/model identifier stored in the index.
func (c *Client) Name() string { return "openai/" + c.model }

// Dimension returns the dimensionality of the produced vectors.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// EmbedBatch embeds texts in one provider call, preserving input order.
// Either every input gets a vector or the whole batch fails.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 8 * time.Second

	vecs, err := backoff.RetryWithData(func() ([][]float64, error) {
		return c.doEmbed(ctx, texts)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		if errors.Is(err, domain.ErrPermanent) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRetryable, err)
	}
	return vecs, nil
}

func (c *Client) doEmbed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: marshal request: %v", domain.ErrPermanent, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrPermanent, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failures and timeouts are transient.
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Honor the server-provided backoff hint before the next attempt.
		if wait := retryAfter(resp.Header); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, fmt.Errorf("embeddings request failed: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		// Bad credential or malformed input: retrying cannot help.
		return nil, backoff.Permanent(fmt.Errorf("%w: embeddings request failed: %s: %s",
			domain.ErrPermanent, resp.Status, string(payload)))
	}

	var out embeddingResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrPermanent, out.Error.Message))
	}
	if len(out.Data) != len(texts) {
		return nil, backoff.Permanent(fmt.Errorf("%w: got %d embeddings for %d inputs",
			domain.ErrPermanent, len(out.Data), len(texts)))
	}

	vecs := make([][]float64, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, backoff.Permanent(fmt.Errorf("%w: embedding index %d out of range", domain.ErrPermanent, d.Index))
		}
		if len(d.Embedding) != c.dimension {
			return nil, backoff.Permanent(fmt.Errorf("%w: provider returned dimension %d, expected %d",
				domain.ErrPermanent, len(d.Embedding), c.dimension))
		}
		vecs[d.Index] = normalize(d.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: no embedding returned for input %d", domain.ErrPermanent, i))
		}
	}
	return vecs, nil
}

// maxRetryAfter bounds how long a Retry-After header can stall a retry.
const maxRetryAfter = 30 * time.Second

// retryAfter parses the Retry-After header of a 429/5xx response, in
// either delay-seconds or HTTP-date form. Returns 0 when absent or
// unparseable.
func retryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	var wait time.Duration
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		wait = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(raw); err == nil {
		wait = time.Until(at)
	}
	if wait < 0 {
		return 0
	}
	if wait > maxRetryAfter {
		return maxRetryAfter
	}
	return wait
}

// normalize scales v to unit length so cosine similarity reduces to a
// dot product at search time.
func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
	return v
}
