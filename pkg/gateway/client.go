package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xhad/danfe/internal/models"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.meudanfe.com.br/v2/fd"

// maxBodySize bounds how much of a response body is read into memory.
const maxBodySize = 32 << 20

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64 // requests per second
	HTTPClient *http.Client
}

// Client talks to the document registry. It keeps no per-key state and
// never retries.
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	baseURL *url.URL
}

type envelope struct {
	Status *string `json:"status"`
	Data   *string `json:"data"`
}

func NewWithConfig(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	parsedURL, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", config.BaseURL)
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Client{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseURL: parsedURL,
	}, nil
}

// Register asks the registry to start generating the document's artifacts.
func (c *Client) Register(ctx context.Context, key models.DocumentKey) (models.RemoteStatus, error) {
	return c.status(ctx, "register", http.MethodPut, "add", key)
}

// PollStatus re-checks readiness without registering again.
func (c *Client) PollStatus(ctx context.Context, key models.DocumentKey) (models.RemoteStatus, error) {
	return c.status(ctx, "poll", http.MethodGet, "status", key)
}

// FetchPrimary returns the XML document text verbatim.
func (c *Client) FetchPrimary(ctx context.Context, key models.DocumentKey) ([]byte, error) {
	data, err := c.fetch(ctx, "fetch primary", "get/xml", key)
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// FetchSecondary returns the rendered document, decoded from base64.
func (c *Client) FetchSecondary(ctx context.Context, key models.DocumentKey) ([]byte, error) {
	data, err := c.fetch(ctx, "fetch secondary", "get/da", key)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, &Error{Op: "fetch secondary", Key: key.String(), Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return decoded, nil
}

func (c *Client) status(ctx context.Context, op, method, path string, key models.DocumentKey) (models.RemoteStatus, error) {
	code, body, err := c.do(ctx, method, path, key)
	if err != nil {
		return models.RemoteStatus{}, &Error{Op: op, Key: key.String(), Err: err}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if !success(code) {
			return models.RemoteStatus{}, &Error{Op: op, Key: key.String(), Err: &RemoteError{Code: code}}
		}
		return models.RemoteStatus{}, &Error{Op: op, Key: key.String(), Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	// The registry answers "not yet" states with 4xx codes, so a status
	// in the body wins over the HTTP code.
	if env.Status != nil {
		return models.ParseRemoteStatus(*env.Status), nil
	}
	if !success(code) {
		return models.RemoteStatus{}, &Error{Op: op, Key: key.String(), Err: &RemoteError{Code: code}}
	}
	return models.ParseRemoteStatus("?"), nil
}

func (c *Client) fetch(ctx context.Context, op, path string, key models.DocumentKey) (string, error) {
	code, body, err := c.do(ctx, http.MethodGet, path, key)
	if err != nil {
		return "", &Error{Op: op, Key: key.String(), Err: err}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Error pages from proxies are rarely JSON.
		if !success(code) {
			return "", &Error{Op: op, Key: key.String(), Err: &RemoteError{Code: code}}
		}
		return "", &Error{Op: op, Key: key.String(), Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	if !success(code) {
		remote := &RemoteError{Code: code}
		if env.Status != nil {
			remote.Message = *env.Status
		}
		return "", &Error{Op: op, Key: key.String(), Err: remote}
	}
	if env.Data == nil || *env.Data == "" {
		return "", &Error{Op: op, Key: key.String(), Err: ErrNotAvailable}
	}
	return *env.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, key models.DocumentKey) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, &TransportError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	endpoint := c.baseURL.JoinPath(path, key.String())
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Api-Key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, &TransportError{Err: err}
	}
	return resp.StatusCode, body, nil
}

func success(code int) bool {
	return code >= 200 && code < 300
}
