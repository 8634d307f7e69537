package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"captioner/internal/config"
	"captioner/internal/llm"
	"captioner/internal/logging"
	"captioner/internal/subtitle"
)

func TestNewResolvesEachBackend(t *testing.T) {
	client := llm.NewClient(llm.Config{APIKey: "k", Model: "m"})
	cases := []struct {
		backend Backend
		check   func(Translator) bool
	}{
		{Backend{Kind: KindLLM, Target: "zh-Hans", LLM: LLMConfig{Client: client}}, func(tr Translator) bool {
			l, ok := tr.(*llmTranslator)
			return ok && l.target == "Simplified Chinese"
		}},
		{Backend{Kind: KindDeepLX, Target: "zh-Hans", DeepLX: DeepLXConfig{Endpoint: "http://x"}}, func(tr Translator) bool {
			d, ok := tr.(*deeplxTranslator)
			return ok && d.target == "ZH"
		}},
		{Backend{Kind: KindGoogle, Target: "zh-Hans"}, func(tr Translator) bool {
			g, ok := tr.(*googleTranslator)
			return ok && g.target == "zh-CN" && g.baseURL == googleDefaultURL
		}},
		{Backend{Kind: KindBing, Target: "Japanese"}, func(tr Translator) bool {
			b, ok := tr.(*bingTranslator)
			return ok && b.target == "ja"
		}},
	}
	for _, tc := range cases {
		tr, err := New(tc.backend)
		if err != nil {
			t.Fatalf("%s: New returned error: %v", tc.backend.Kind, err)
		}
		if !tc.check(tr) {
			t.Fatalf("%s: unexpected translator %#v", tc.backend.Kind, tr)
		}
	}
}

func TestNewRejectsInvalidBackends(t *testing.T) {
	if _, err := New(Backend{Kind: "babelfish", Target: "en"}); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
	if _, err := New(Backend{Kind: KindLLM, Target: "en"}); !errors.Is(err, ErrMissingClient) {
		t.Fatalf("expected missing client error, got %v", err)
	}
	if _, err := New(Backend{Kind: KindGoogle}); !errors.Is(err, ErrMissingTarget) {
		t.Fatalf("expected missing target error, got %v", err)
	}
	if _, err := New(Backend{Kind: KindDeepLX, Target: "en"}); err == nil {
		t.Fatal("expected deeplx without endpoint to fail")
	}
}

func TestFromConfigBatchSizesAndScope(t *testing.T) {
	cfg := config.Default()
	cfg.Subtitle.BatchSize = 7
	cfg.Subtitle.NeedReflect = true
	client := llm.NewClient(llm.Config{APIKey: "k", Model: "gpt-test"})

	backend := FromConfig(&cfg, client)
	if backend.Kind != KindLLM || backend.BatchSize() != 7 {
		t.Fatalf("unexpected llm backend: %+v batch=%d", backend.Kind, backend.BatchSize())
	}
	if backend.Scope() != "llm:gpt-test:reflect" {
		t.Fatalf("unexpected scope %q", backend.Scope())
	}
	for kind, want := range map[Kind]int{KindBing: 10, KindGoogle: 5, KindDeepLX: 5} {
		backend.Kind = kind
		if backend.BatchSize() != want {
			t.Fatalf("%s: expected batch size %d, got %d", kind, want, backend.BatchSize())
		}
		if backend.Scope() != string(kind) {
			t.Fatalf("%s: unexpected scope %q", kind, backend.Scope())
		}
	}
}

func TestGoogleTranslator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tl") != "fr" || r.URL.Query().Get("client") != "gtx" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		q := r.URL.Query().Get("q")
		_, _ = io.WriteString(w, `[[["`+strings.ToUpper(q)+`","`+q+`",null],[" !","",null]],null,"en"]`)
	}))
	defer server.Close()

	tr, err := New(Backend{Kind: KindGoogle, Target: "fr", Google: GoogleConfig{BaseURL: server.URL}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	out, err := tr.Translate(context.Background(), []string{"hello", "", "bye"})
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if strings.Join(out, "|") != "HELLO !||BYE !" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestDeepLXTranslator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req deeplxRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.TargetLang != "DE" || req.SourceLang != "auto" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(deeplxResponse{Code: 200, Data: "de:" + req.Text})
	}))
	defer server.Close()

	tr, err := New(Backend{Kind: KindDeepLX, Target: "german", DeepLX: DeepLXConfig{Endpoint: server.URL}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	out, err := tr.Translate(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if out[0] != "de:a" || out[1] != "de:b" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBingTranslatorCachesToken(t *testing.T) {
	var authCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		_, _ = io.WriteString(w, "token-1")
	})
	mux.HandleFunc("/translate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("to") != "zh-Hant" {
			t.Errorf("unexpected target %q", r.URL.Query().Get("to"))
		}
		var items []bingText
		_ = json.NewDecoder(r.Body).Decode(&items)
		results := make([]map[string]any, len(items))
		for i, item := range items {
			results[i] = map[string]any{"translations": []map[string]string{{"text": "t:" + item.Text, "to": "zh-Hant"}}}
		}
		_ = json.NewEncoder(w).Encode(results)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tr, err := New(Backend{Kind: KindBing, Target: "zh-Hant", Bing: BingConfig{AuthURL: server.URL + "/auth", TranslateURL: server.URL + "/translate"}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	for range 2 {
		out, err := tr.Translate(context.Background(), []string{"x", "y"})
		if err != nil {
			t.Fatalf("Translate returned error: %v", err)
		}
		if out[1] != "t:y" {
			t.Fatalf("unexpected output %q", out)
		}
	}
	if authCalls.Load() != 1 {
		t.Fatalf("expected token to be reused, auth called %d times", authCalls.Load())
	}
}

func llmServer(t *testing.T, reply func(lines map[string]string) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		var lines map[string]string
		if err := json.Unmarshal([]byte(req.Messages[1].Content), &lines); err != nil {
			t.Errorf("decode user prompt: %v", err)
			return
		}
		content, _ := json.Marshal(reply(lines))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": string(content)}}},
		})
	}))
}

func TestLLMTranslatorRetriesMissingLines(t *testing.T) {
	var calls atomic.Int32
	server := llmServer(t, func(lines map[string]string) any {
		n := calls.Add(1)
		out := map[string]string{}
		for key, text := range lines {
			if n == 1 && key == "2" {
				continue
			}
			out[key] = "<" + text + ">"
		}
		return out
	})
	defer server.Close()

	client := llm.NewClient(llm.Config{APIKey: "k", BaseURL: server.URL, Model: "m"})
	tr, _ := New(Backend{Kind: KindLLM, Target: "en", LLM: LLMConfig{Client: client}})
	out, err := tr.Translate(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if strings.Join(out, ",") != "<one>,<two>,<three>" {
		t.Fatalf("unexpected output %q", out)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one follow-up request, got %d calls", calls.Load())
	}
}

func TestLLMTranslatorReflectUsesFinal(t *testing.T) {
	server := llmServer(t, func(lines map[string]string) any {
		out := map[string]reflectedLine{}
		for key, text := range lines {
			out[key] = reflectedLine{Initial: "rough " + text, Reflection: "too literal", Final: "final " + text}
		}
		return out
	})
	defer server.Close()

	client := llm.NewClient(llm.Config{APIKey: "k", BaseURL: server.URL, Model: "m"})
	tr, _ := New(Backend{Kind: KindLLM, Target: "en", LLM: LLMConfig{Client: client, Reflect: true}})
	out, err := tr.Translate(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if out[0] != "final a" {
		t.Fatalf("expected final translation, got %q", out[0])
	}
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCache) Put(_ context.Context, _, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

type progressLog struct {
	mu   sync.Mutex
	done []int
}

func (p *progressLog) Report(done, _ int, _ string) {
	p.mu.Lock()
	p.done = append(p.done, done)
	p.mu.Unlock()
}

func TestEngineUsesCacheAndReportsProgress(t *testing.T) {
	var seen atomic.Int32
	upper := TranslatorFunc(func(_ context.Context, lines []string) ([]string, error) {
		seen.Add(int32(len(lines)))
		out := make([]string, len(lines))
		for i, line := range lines {
			out[i] = strings.ToUpper(line)
		}
		return out, nil
	})
	store := &memoryCache{values: map[string]string{}}
	backend := Backend{Kind: KindGoogle, Target: "fr"}
	engine := newEngine(upper, backend, EngineOptions{Workers: 2, Cache: store}, logging.NewNop())

	transcript := &subtitle.Transcript{Segments: []subtitle.Segment{{Text: "a"}, {Text: ""}, {Text: "b"}, {Text: "c"}}}
	rec := &progressLog{}
	if err := engine.Translate(context.Background(), transcript, rec, nil); err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if transcript.Segments[3].Translation != "C" || transcript.Segments[1].Translation != "" {
		t.Fatalf("unexpected translations: %+v", transcript.Segments)
	}
	if seen.Load() != 3 {
		t.Fatalf("expected 3 lines sent, got %d", seen.Load())
	}
	if last := rec.done[len(rec.done)-1]; last != 4 {
		t.Fatalf("expected progress to reach all cues, got %v", rec.done)
	}

	second := &subtitle.Transcript{Segments: []subtitle.Segment{{Text: "a"}, {Text: "b"}}}
	if err := engine.Translate(context.Background(), second, nil, nil); err != nil {
		t.Fatalf("second Translate returned error: %v", err)
	}
	if seen.Load() != 3 {
		t.Fatalf("expected cached lines to skip the backend, total sent %d", seen.Load())
	}
	if second.Segments[1].Translation != "B" {
		t.Fatalf("expected cached translation, got %q", second.Segments[1].Translation)
	}
}

func TestEngineStopsAtCheckpoint(t *testing.T) {
	stop := errors.New("task cancelled")
	never := TranslatorFunc(func(context.Context, []string) ([]string, error) {
		t.Error("translator should not run after the checkpoint fired")
		return nil, nil
	})
	engine := newEngine(never, Backend{Kind: KindBing, Target: "fr"}, EngineOptions{}, logging.NewNop())
	transcript := &subtitle.Transcript{Segments: []subtitle.Segment{{Text: "a"}}}
	err := engine.Translate(context.Background(), transcript, nil, func() error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}
}
