package config

const (
	defaultConfigPath             = "~/.config/captioner/config.toml"
	defaultLogDir                 = "~/.local/share/captioner/logs"
	defaultCacheDir               = "~/.cache/captioner"
	defaultWorkDir                = "~/.local/share/captioner/work"
	defaultAPIBind                = "127.0.0.1:5000"
	defaultKeepaliveInterval      = 10
	defaultServerTimeout          = 30
	defaultHandshakeTimeout       = 15
	defaultTranscribeModel        = "large-v3"
	defaultVADMethod              = "silero"
	defaultThreadNum              = 4
	defaultBatchSize              = 10
	defaultMaxWordCountCJK        = 25
	defaultMaxWordCountEnglish    = 18
	defaultTargetLanguage         = "zh-Hans"
	defaultLayout                 = LayoutTargetAbove
	defaultTranslatorService      = TranslatorLLM
	defaultTranslatorRPS          = 5
	defaultTranslatorTimeout      = 20
	defaultLLMBaseURL             = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel               = "gpt-4o-mini"
	defaultLLMTimeoutSeconds      = 60
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultCacheFileName          = "cache.db"
	defaultTranscribeLanguageAuto = ""
)

// Translator service identifiers accepted in translator.service.
const (
	TranslatorLLM    = "llm"
	TranslatorDeepLX = "deeplx"
	TranslatorGoogle = "google"
	TranslatorBing   = "bing"
)

// Subtitle layouts accepted in subtitle.layout.
const (
	LayoutSourceAbove = "source-above"
	LayoutTargetAbove = "target-above"
	LayoutSourceOnly  = "source-only"
	LayoutTargetOnly  = "target-only"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			CacheDir: defaultCacheDir,
			WorkDir:  defaultWorkDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Coordinator: Coordinator{
			KeepaliveInterval: defaultKeepaliveInterval,
			ServerTimeout:     defaultServerTimeout,
			HandshakeTimeout:  defaultHandshakeTimeout,
		},
		Transcribe: Transcribe{
			Model:     defaultTranscribeModel,
			Language:  defaultTranscribeLanguageAuto,
			VADMethod: defaultVADMethod,
		},
		Subtitle: Subtitle{
			NeedSplit:           true,
			NeedOptimize:        false,
			NeedTranslate:       true,
			ThreadNum:           defaultThreadNum,
			BatchSize:           defaultBatchSize,
			MaxWordCountCJK:     defaultMaxWordCountCJK,
			MaxWordCountEnglish: defaultMaxWordCountEnglish,
			TargetLanguage:      defaultTargetLanguage,
			Layout:              defaultLayout,
		},
		Translator: Translator{
			Service:           defaultTranslatorService,
			RequestsPerSecond: defaultTranslatorRPS,
			TimeoutSeconds:    defaultTranslatorTimeout,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Cache: Cache{
			Enabled: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
