package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type deeplxTranslator struct {
	http     *http.Client
	endpoint string
	target   string
}

type deeplxRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type deeplxResponse struct {
	Code    int    `json:"code"`
	Data    string `json:"data"`
	Message string `json:"message"`
}

// Translate sends one request per line; DeepLX has no batch API.
func (t *deeplxTranslator) Translate(ctx context.Context, lines []string) ([]string, error) {
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

func (t *deeplxTranslator) translateOne(ctx context.Context, line string) (string, error) {
	body, err := json.Marshal(deeplxRequest{Text: line, SourceLang: "auto", TargetLang: t.target})
	if err != nil {
		return "", fmt.Errorf("deeplx: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("deeplx: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("deeplx: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("deeplx: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deeplx: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded deeplxResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("deeplx: decode response: %w", err)
	}
	if decoded.Code != 0 && decoded.Code != http.StatusOK {
		return "", fmt.Errorf("deeplx: code %d: %s", decoded.Code, decoded.Message)
	}
	return strings.TrimSpace(decoded.Data), nil
}
