package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"captioner/internal/node"
)

// ErrAPIUnavailable is returned when the node API cannot be reached.
var ErrAPIUnavailable = errors.New("node API unavailable")

// Client talks to a running node's control API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient parses bind ("host:port" or a URL).
func NewClient(bind string, timeout time.Duration) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}, nil
}

// Health calls /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
	return out, err
}

// Status calls /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &out)
	return out, err
}

// SetMaster asks the node to connect to the coordinator at address.
func (c *Client) SetMaster(ctx context.Context, address string) (SetMasterResponse, error) {
	var out SetMasterResponse
	query := url.Values{}
	query.Set("url", address)
	err := c.do(ctx, http.MethodGet, "/set-master", query, nil, &out)
	return out, err
}

// DisconnectMaster drops the coordinator channel.
func (c *Client) DisconnectMaster(ctx context.Context) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPost, "/disconnect-master", nil, nil, &out)
	return out, err
}

// StartSubtitize submits a task.
func (c *Client) StartSubtitize(ctx context.Context, req StartRequest) (StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, http.MethodPost, "/api/rpc/start-subtitize", nil, req, &out)
	return out, err
}

// StopSubtitize cancels task id.
func (c *Client) StopSubtitize(ctx context.Context, id int64) (node.StopResult, error) {
	var out node.StopResult
	err := c.do(ctx, http.MethodPost, "/api/rpc/stop-subtitize", nil, StopRequest{TaskID: &id}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, target any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsAPIUnavailable reports whether err means nothing is listening.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
