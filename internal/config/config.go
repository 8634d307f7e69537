package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"captioner/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	CacheDir string `toml:"cache_dir"`
	WorkDir  string `toml:"work_dir"`
}

// API contains the local control surface settings.
type API struct {
	Bind string `toml:"bind"`
}

// Coordinator contains settings for the persistent channel to the coordinator hub.
type Coordinator struct {
	URL                  string `toml:"url"`
	KeepaliveInterval    int    `toml:"keepalive_interval"`
	ServerTimeout        int    `toml:"server_timeout"`
	HandshakeTimeout     int    `toml:"handshake_timeout"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
}

// Transcribe contains speech recognition settings.
type Transcribe struct {
	Model        string `toml:"model"`
	Language     string `toml:"language"`
	CUDAEnabled  bool   `toml:"cuda_enabled"`
	VADMethod    string `toml:"vad_method"`
	HFToken      string `toml:"hf_token"`
	FFmpegBinary string `toml:"ffmpeg_binary"`
	AudioTrack   int    `toml:"audio_track"`
}

// Subtitle contains post-transcription processing settings.
type Subtitle struct {
	NeedSplit           bool   `toml:"need_split"`
	NeedOptimize        bool   `toml:"need_optimize"`
	NeedTranslate       bool   `toml:"need_translate"`
	NeedReflect         bool   `toml:"need_reflect"`
	ThreadNum           int    `toml:"thread_num"`
	BatchSize           int    `toml:"batch_size"`
	MaxWordCountCJK     int    `toml:"max_word_count_cjk"`
	MaxWordCountEnglish int    `toml:"max_word_count_english"`
	TargetLanguage      string `toml:"target_language"`
	Layout              string `toml:"layout"`
	Style               string `toml:"style"`
	CustomPrompt        string `toml:"custom_prompt"`
}

// Translator selects the translation backend.
type Translator struct {
	Service           string  `toml:"service"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// LLM contains OpenAI-compatible chat API settings shared by the optimizer and
// the llm translator.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DeepLX contains the DeepLX endpoint.
type DeepLX struct {
	Endpoint string `toml:"endpoint"`
}

// Cache contains the translation cache settings.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format       string `toml:"format"`
	Level        string `toml:"level"`
	ForwardLevel string `toml:"forward_level"`
}

// Config encapsulates all configuration values for the worker node.
//
// Configuration sections by subsystem:
//   - Paths: log, cache and scratch directories
//   - API: local control surface bind address
//   - Coordinator: hub URL, keepalive and reconnect policy
//   - Transcribe: WhisperX and ffmpeg settings
//   - Subtitle: split/optimize/translate toggles, batching and output layout
//   - Translator, LLM, DeepLX: translation backend selection and credentials
//   - Cache: sqlite cache for translated and optimized lines
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and coordinator forwarding
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Coordinator   Coordinator   `toml:"coordinator"`
	Transcribe    Transcribe    `toml:"transcribe"`
	Subtitle      Subtitle      `toml:"subtitle"`
	Translator    Translator    `toml:"translator"`
	LLM           LLM           `toml:"llm"`
	DeepLX        DeepLX        `toml:"deeplx"`
	Cache         Cache         `toml:"cache"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	loadDotEnv(filepath.Dir(resolvedPath))

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv overlays KEY=value pairs from .env files onto the process
// environment. Variables that are already set win.
func loadDotEnv(configDir string) {
	candidates := []string{".env"}
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(candidate)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("captioner.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.CacheDir, c.Paths.WorkDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Cache.Enabled && c.Cache.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.Cache.Path), 0o755); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for audio extraction.
func (c *Config) FFmpegBinary() string {
	if strings.TrimSpace(c.Transcribe.FFmpegBinary) == "" {
		return "ffmpeg"
	}
	return c.Transcribe.FFmpegBinary
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "captioner.lock")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "captioner.log")
}

// APIBaseURL returns the HTTP base URL for the control API bind address.
func (c *Config) APIBaseURL() string {
	bind := strings.TrimSpace(c.API.Bind)
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	if strings.HasPrefix(bind, "0.0.0.0:") {
		bind = "127.0.0.1:" + strings.TrimPrefix(bind, "0.0.0.0:")
	}
	return "http://" + bind
}

// UsesLLM reports whether any enabled stage talks to the chat completion API.
func (c *Config) UsesLLM() bool {
	if c.Subtitle.NeedOptimize {
		return true
	}
	return c.Subtitle.NeedTranslate && c.Translator.Service == TranslatorLLM
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, sampleConfig)
		return err
	})
	if err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
