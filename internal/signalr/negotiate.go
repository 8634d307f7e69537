package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type negotiateResponse struct {
	ConnectionID    string `json:"connectionId"`
	ConnectionToken string `json:"connectionToken"`
	URL             string `json:"url"`
	AccessToken     string `json:"accessToken"`
	Error           string `json:"error"`
}

// maxNegotiateRedirects bounds Azure SignalR style redirects.
const maxNegotiateRedirects = 3

// negotiate performs the negotiate round trip and returns the websocket URL
// plus an optional bearer token.
func negotiate(ctx context.Context, client *http.Client, hubURL string, header http.Header) (string, string, error) {
	accessToken := ""
	for attempt := 0; attempt <= maxNegotiateRedirects; attempt++ {
		base, err := url.Parse(hubURL)
		if err != nil {
			return "", "", fmt.Errorf("parse hub url: %w", err)
		}
		negotiateURL := *base
		negotiateURL.Path = strings.TrimSuffix(base.Path, "/") + "/negotiate"
		query := negotiateURL.Query()
		query.Set("negotiateVersion", "1")
		negotiateURL.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL.String(), nil)
		if err != nil {
			return "", "", fmt.Errorf("build negotiate request: %w", err)
		}
		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		if accessToken != "" {
			req.Header.Set("Authorization", "Bearer "+accessToken)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", "", fmt.Errorf("negotiate: %w", err)
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			return "", "", fmt.Errorf("read negotiate response: %w", readErr)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", "", fmt.Errorf("negotiate: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var parsed negotiateResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", "", fmt.Errorf("decode negotiate response: %w", err)
		}
		if parsed.Error != "" {
			return "", "", fmt.Errorf("negotiate: %s", parsed.Error)
		}
		if parsed.URL != "" {
			hubURL = parsed.URL
			accessToken = parsed.AccessToken
			continue
		}

		token := parsed.ConnectionToken
		if token == "" {
			token = parsed.ConnectionID
		}
		wsURL, err := websocketURL(base, token)
		if err != nil {
			return "", "", err
		}
		return wsURL, accessToken, nil
	}
	return "", "", fmt.Errorf("negotiate: too many redirects")
}

func websocketURL(base *url.URL, token string) (string, error) {
	target := *base
	switch strings.ToLower(target.Scheme) {
	case "http", "ws":
		target.Scheme = "ws"
	case "https", "wss":
		target.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported hub scheme %q", base.Scheme)
	}
	if token != "" {
		query := target.Query()
		query.Set("id", token)
		target.RawQuery = query.Encode()
	}
	return target.String(), nil
}
