// Package provider wraps the remote AI model behind a minimal invocation
// contract. Auth header handling lives here; nothing upstream sees secrets.
package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"taskforge/internal/jsonx"
	"taskforge/internal/logging"
)

const (
	defaultTimeout   = 200 * time.Second
	defaultCacheSize = 256
)

// ProviderError carries the upstream status text for user display. The
// orchestration layer never retries these; resubmission is a user decision.
type ProviderError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("provider error %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("provider error %s", e.Status)
}

// Client is the invocation contract consumed by task executors.
type Client interface {
	Invoke(ctx context.Context, modelID, prompt string) (string, error)
}

// CredentialSource resolves the current secret for a provider name. The
// store implements this; a missing credential is ok=false, not an error.
type CredentialSource interface {
	Credential(ctx context.Context, provider string) (secret string, ok bool, err error)
}

// HTTPClient calls an OpenAI-compatible chat completion endpoint.
type HTTPClient struct {
	baseURL     string
	provider    string
	credentials CredentialSource
	httpClient  *http.Client
	cache       *lru.Cache[string, string]
	logger      logging.Logger
}

// Option configures the HTTP client.
type Option func(*HTTPClient)

// WithHTTPClient swaps the underlying transport, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCacheSize resizes the response cache. Zero disables caching.
func WithCacheSize(size int) Option {
	return func(c *HTTPClient) {
		c.cache = nil
		if size > 0 {
			cache, err := lru.New[string, string](size)
			if err == nil {
				c.cache = cache
			}
		}
	}
}

// NewHTTPClient builds a client against baseURL, resolving the secret for
// providerName through credentials on every call so rotated keys take effect
// without a restart.
func NewHTTPClient(baseURL, providerName string, credentials CredentialSource, opts ...Option) *HTTPClient {
	cache, _ := lru.New[string, string](defaultCacheSize)
	c := &HTTPClient{
		baseURL:     baseURL,
		provider:    providerName,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		cache:       cache,
		logger:      logging.NewComponentLogger("ProviderClient"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Invoke sends prompt to modelID and returns the raw response text.
// Identical invocations are served from an LRU cache; network and non-2xx
// failures surface as *ProviderError.
func (c *HTTPClient) Invoke(ctx context.Context, modelID, prompt string) (string, error) {
	key := cacheKey(modelID, prompt)
	if c.cache != nil {
		if text, ok := c.cache.Get(key); ok {
			c.logger.Debug("cache hit for model %s", modelID)
			return text, nil
		}
	}

	payload, err := jsonx.Marshal(chatRequest{
		Model:    modelID,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("provider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.credentials != nil {
		secret, ok, err := c.credentials.Credential(ctx, c.provider)
		if err != nil {
			return "", fmt.Errorf("provider: credential lookup: %w", err)
		}
		if ok && secret != "" {
			req.Header.Set("Authorization", "Bearer "+secret)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Status: "request failed", Body: err.Error()}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("closing response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status, Body: "unreadable response body"}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	var chat chatResponse
	if err := jsonx.Unmarshal(body, &chat); err != nil {
		return "", &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status, Body: "undecodable response body"}
	}
	if len(chat.Choices) == 0 {
		return "", &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status, Body: "response contained no choices"}
	}

	text := chat.Choices[0].Message.Content
	if c.cache != nil {
		c.cache.Add(key, text)
	}
	return text, nil
}

func cacheKey(modelID, prompt string) string {
	sum := sha256.Sum256([]byte(modelID + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}
