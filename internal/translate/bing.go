package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	bingAuthURL      = "https://edge.microsoft.com/translate/auth"
	bingTranslateURL = "https://api-edge.cognitive.microsofttranslator.com/translate"
	bingTokenTTL     = 8 * time.Minute
)

type bingTranslator struct {
	http         *http.Client
	authURL      string
	translateURL string
	target       string

	mu      sync.Mutex
	token   string
	expires time.Time
}

type bingText struct {
	Text string `json:"Text"`
}

type bingResult struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

// Translate sends the whole batch in one request.
func (t *bingTranslator) Translate(ctx context.Context, lines []string) ([]string, error) {
	token, err := t.authToken(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]bingText, len(lines))
	for i, line := range lines {
		items[i] = bingText{Text: line}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("bing: encode body: %w", err)
	}
	query := url.Values{}
	query.Set("api-version", "3.0")
	query.Set("from", "")
	query.Set("to", t.target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.translateURL+"?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bing: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bing: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bing: read body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.resetToken()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bing: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var results []bingResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("bing: decode response: %w", err)
	}
	if len(results) != len(lines) {
		return nil, fmt.Errorf("bing: got %d results for %d lines", len(results), len(lines))
	}
	out := make([]string, len(lines))
	for i, result := range results {
		if len(result.Translations) > 0 {
			out[i] = strings.TrimSpace(result.Translations[0].Text)
		}
	}
	return out, nil
}

func (t *bingTranslator) authToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Now().Before(t.expires) {
		return t.token, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.authURL, nil)
	if err != nil {
		return "", fmt.Errorf("bing auth: new request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("bing auth: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("bing auth: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK || len(bytes.TrimSpace(raw)) == 0 {
		return "", fmt.Errorf("bing auth: http %d", resp.StatusCode)
	}
	t.token = strings.TrimSpace(string(raw))
	t.expires = time.Now().Add(bingTokenTTL)
	return t.token, nil
}

func (t *bingTranslator) resetToken() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
}
