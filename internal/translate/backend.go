package translate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"captioner/internal/config"
	langpkg "captioner/internal/language"
	"captioner/internal/llm"
)

// Kind names a translation service.
type Kind string

const (
	KindLLM    Kind = config.TranslatorLLM
	KindDeepLX Kind = config.TranslatorDeepLX
	KindGoogle Kind = config.TranslatorGoogle
	KindBing   Kind = config.TranslatorBing
)

// Fixed batch sizes of the public machine translation services.
const (
	bingBatchSize   = 10
	googleBatchSize = 5
	deeplxBatchSize = 5
	defaultLLMBatch = 10
)

var (
	ErrUnknownBackend = errors.New("unknown translation backend")
	ErrMissingClient  = errors.New("llm backend requires a client")
	ErrMissingTarget  = errors.New("target language required")
)

// LLMConfig is the payload of a KindLLM backend.
type LLMConfig struct {
	Client       *llm.Client
	BatchSize    int
	Reflect      bool
	CustomPrompt string
}

// DeepLXConfig is the payload of a KindDeepLX backend.
type DeepLXConfig struct {
	Endpoint string
}

// GoogleConfig is the payload of a KindGoogle backend.
type GoogleConfig struct {
	// BaseURL overrides the public endpoint.
	BaseURL string
}

// BingConfig is the payload of a KindBing backend.
type BingConfig struct {
	// AuthURL and TranslateURL override the public endpoints.
	AuthURL      string
	TranslateURL string
}

// Backend is a tagged variant: Kind selects which payload field is read.
type Backend struct {
	Kind       Kind
	Target     string
	LLM        LLMConfig
	DeepLX     DeepLXConfig
	Google     GoogleConfig
	Bing       BingConfig
	HTTPClient *http.Client
}

// FromConfig builds the backend selected by translator.service. client may be
// nil unless the llm backend is selected.
func FromConfig(cfg *config.Config, client *llm.Client) Backend {
	timeout := time.Duration(cfg.Translator.TimeoutSeconds) * time.Second
	return Backend{
		Kind:   Kind(cfg.Translator.Service),
		Target: cfg.Subtitle.TargetLanguage,
		LLM: LLMConfig{
			Client:       client,
			BatchSize:    cfg.Subtitle.BatchSize,
			Reflect:      cfg.Subtitle.NeedReflect,
			CustomPrompt: cfg.Subtitle.CustomPrompt,
		},
		DeepLX:     DeepLXConfig{Endpoint: cfg.DeepLX.Endpoint},
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// BatchSize is the number of lines sent per request.
func (b Backend) BatchSize() int {
	switch b.Kind {
	case KindBing:
		return bingBatchSize
	case KindGoogle:
		return googleBatchSize
	case KindDeepLX:
		return deeplxBatchSize
	default:
		if b.LLM.BatchSize > 0 {
			return b.LLM.BatchSize
		}
		return defaultLLMBatch
	}
}

// Scope identifies the backend in cache keys. LLM output depends on the model
// and on reflect mode, so both are part of the scope.
func (b Backend) Scope() string {
	if b.Kind != KindLLM {
		return string(b.Kind)
	}
	scope := "llm"
	if b.LLM.Client != nil {
		scope += ":" + b.LLM.Client.Model()
	}
	if b.LLM.Reflect {
		scope += ":reflect"
	}
	return scope
}

// New resolves the backend into a Translator.
func New(b Backend) (Translator, error) {
	target := langpkg.Tag(b.Target)
	if target == "" {
		return nil, fmt.Errorf("%w: %q", ErrMissingTarget, b.Target)
	}
	client := b.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	switch b.Kind {
	case KindLLM:
		if b.LLM.Client == nil {
			return nil, ErrMissingClient
		}
		return &llmTranslator{
			client:       b.LLM.Client,
			target:       langpkg.DisplayName(target),
			reflect:      b.LLM.Reflect,
			customPrompt: strings.TrimSpace(b.LLM.CustomPrompt),
		}, nil
	case KindDeepLX:
		if strings.TrimSpace(b.DeepLX.Endpoint) == "" {
			return nil, errors.New("deeplx backend requires an endpoint")
		}
		return &deeplxTranslator{http: client, endpoint: b.DeepLX.Endpoint, target: deeplTarget(target)}, nil
	case KindGoogle:
		base := b.Google.BaseURL
		if base == "" {
			base = googleDefaultURL
		}
		return &googleTranslator{http: client, baseURL: base, target: googleTarget(target)}, nil
	case KindBing:
		auth, endpoint := b.Bing.AuthURL, b.Bing.TranslateURL
		if auth == "" {
			auth = bingAuthURL
		}
		if endpoint == "" {
			endpoint = bingTranslateURL
		}
		return &bingTranslator{http: client, authURL: auth, translateURL: endpoint, target: bingTarget(target)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, b.Kind)
	}
}

// googleTarget maps script subtags onto Google's regional codes.
func googleTarget(tag string) string {
	switch strings.ToLower(tag) {
	case "zh-hans", "zh-cn", "zh":
		return "zh-CN"
	case "zh-hant", "zh-tw", "zh-hk":
		return "zh-TW"
	}
	return baseCode(tag)
}

func deeplTarget(tag string) string {
	switch strings.ToLower(tag) {
	case "zh-hant", "zh-tw", "zh-hk":
		return "ZH-HANT"
	case "en-gb":
		return "EN-GB"
	case "en-us", "en":
		return "EN-US"
	case "pt-br":
		return "PT-BR"
	}
	return strings.ToUpper(baseCode(tag))
}

func bingTarget(tag string) string {
	switch strings.ToLower(tag) {
	case "zh-hans", "zh-cn", "zh":
		return "zh-Hans"
	case "zh-hant", "zh-tw", "zh-hk":
		return "zh-Hant"
	}
	return baseCode(tag)
}

func baseCode(tag string) string {
	base, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(base)
}
