// Package uazapi sends WhatsApp text messages through a uazapiGO v2 instance.
package uazapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"realty-bot/internal/integrations/paramstore"
)

const defaultTimeout = 10 * time.Second

type sendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// HTTPStatusError captures non-2xx gateway responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("uazapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to one gateway instance. Each send is a single attempt.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the instance at baseURL. The instance token
// is read from <paramPrefix>/uazapi-token on first use.
func NewClient(baseURL string, ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("uazapi: base url must not be empty")
	}
	if ps == nil {
		return nil, errors.New("uazapi: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("uazapi: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendText sends text to an individual number in international format
// without '+'.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("uazapi: phone must not be empty")
	}
	return c.sendText(ctx, phone, text)
}

// SendGroupText sends text to a group id such as 120363000000000000@g.us.
func (c *Client) SendGroupText(ctx context.Context, groupID, text string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return errors.New("uazapi: group id must not be empty")
	}
	return c.sendText(ctx, groupID, text)
}

func (c *Client) sendText(ctx context.Context, to, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("uazapi: message must not be empty")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(sendTextRequest{Phone: to, Message: text})
	if err != nil {
		return fmt.Errorf("uazapi: marshal request: %w", err)
	}

	url := c.baseURL + "/send/text"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("uazapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", token)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("uazapi: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
	return nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = paramstore.Token(ctx, c.getter, c.paramPrefix+"/uazapi-token")
		if c.tokenErr != nil {
			c.tokenErr = fmt.Errorf("uazapi: %w", c.tokenErr)
		}
	})
	return c.token, c.tokenErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}
