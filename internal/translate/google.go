package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const googleDefaultURL = "https://translate.googleapis.com/translate_a/single"

type googleTranslator struct {
	http    *http.Client
	baseURL string
	target  string
}

// Translate sends one request per line to the public gtx endpoint.
func (t *googleTranslator) Translate(ctx context.Context, lines []string) ([]string, error) {
	out := make([]string, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		text, err := t.translateOne(ctx, line)
		if err != nil {
			return nil, err
		}
		out[i] = text
	}
	return out, nil
}

func (t *googleTranslator) translateOne(ctx context.Context, line string) (string, error) {
	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("sl", "auto")
	query.Set("tl", t.target)
	query.Set("dt", "t")
	query.Set("q", line)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("google: new request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("google: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("google: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("google: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return parseGoogleResponse(raw)
}

// parseGoogleResponse concatenates the translated sentence fragments of a
// [[["translated","source",...],...],...] payload.
func parseGoogleResponse(raw []byte) (string, error) {
	var payload []json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload) == 0 {
		return "", fmt.Errorf("google: unexpected response: %s", strings.TrimSpace(string(raw)))
	}
	var sentences [][]any
	if err := json.Unmarshal(payload[0], &sentences); err != nil {
		return "", fmt.Errorf("google: unexpected sentence list: %w", err)
	}
	var b strings.Builder
	for _, sentence := range sentences {
		if len(sentence) == 0 {
			continue
		}
		if text, ok := sentence[0].(string); ok {
			b.WriteString(text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
