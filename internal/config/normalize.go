package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeCoordinator()
	c.normalizeTranscribe()
	c.normalizeSubtitle()
	c.normalizeTranslator()
	c.normalizeLLM()
	c.normalizeDeepLX()
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
}

func (c *Config) normalizeCoordinator() {
	if c.Coordinator.URL == "" {
		if value, ok := os.LookupEnv("CAPTIONER_COORDINATOR_URL"); ok {
			c.Coordinator.URL = value
		}
	}
	c.Coordinator.URL = strings.TrimSpace(c.Coordinator.URL)
	if c.Coordinator.KeepaliveInterval <= 0 {
		c.Coordinator.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.Coordinator.ServerTimeout <= 0 {
		c.Coordinator.ServerTimeout = defaultServerTimeout
	}
	if c.Coordinator.HandshakeTimeout <= 0 {
		c.Coordinator.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.Coordinator.MaxReconnectAttempts < 0 {
		c.Coordinator.MaxReconnectAttempts = 0
	}
}

func (c *Config) normalizeTranscribe() {
	c.Transcribe.Model = strings.TrimSpace(c.Transcribe.Model)
	if c.Transcribe.Model == "" {
		c.Transcribe.Model = defaultTranscribeModel
	}
	c.Transcribe.Language = strings.TrimSpace(c.Transcribe.Language)
	c.Transcribe.VADMethod = strings.ToLower(strings.TrimSpace(c.Transcribe.VADMethod))
	if c.Transcribe.VADMethod == "" {
		c.Transcribe.VADMethod = defaultVADMethod
	}
	if value, ok := os.LookupEnv("HF_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Transcribe.HFToken = value
	}
	c.Transcribe.FFmpegBinary = strings.TrimSpace(c.Transcribe.FFmpegBinary)
	if c.Transcribe.AudioTrack < 0 {
		c.Transcribe.AudioTrack = 0
	}
}

func (c *Config) normalizeSubtitle() {
	if c.Subtitle.ThreadNum <= 0 {
		c.Subtitle.ThreadNum = defaultThreadNum
	}
	if c.Subtitle.BatchSize <= 0 {
		c.Subtitle.BatchSize = defaultBatchSize
	}
	if c.Subtitle.MaxWordCountCJK <= 0 {
		c.Subtitle.MaxWordCountCJK = defaultMaxWordCountCJK
	}
	if c.Subtitle.MaxWordCountEnglish <= 0 {
		c.Subtitle.MaxWordCountEnglish = defaultMaxWordCountEnglish
	}
	c.Subtitle.TargetLanguage = strings.TrimSpace(c.Subtitle.TargetLanguage)
	if c.Subtitle.TargetLanguage == "" {
		c.Subtitle.TargetLanguage = defaultTargetLanguage
	}
	c.Subtitle.Layout = strings.ToLower(strings.TrimSpace(c.Subtitle.Layout))
	if c.Subtitle.Layout == "" {
		c.Subtitle.Layout = defaultLayout
	}
	c.Subtitle.Style = strings.TrimSpace(c.Subtitle.Style)
	c.Subtitle.CustomPrompt = strings.TrimSpace(c.Subtitle.CustomPrompt)
}

func (c *Config) normalizeTranslator() {
	c.Translator.Service = strings.ToLower(strings.TrimSpace(c.Translator.Service))
	if c.Translator.Service == "" {
		c.Translator.Service = defaultTranslatorService
	}
	if c.Translator.RequestsPerSecond <= 0 {
		c.Translator.RequestsPerSecond = defaultTranslatorRPS
	}
	if c.Translator.TimeoutSeconds <= 0 {
		c.Translator.TimeoutSeconds = defaultTranslatorTimeout
	}
}

func (c *Config) normalizeLLM() {
	if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.LLM.APIKey = value
	}
	if value, ok := os.LookupEnv("OPENAI_BASE_URL"); ok && strings.TrimSpace(value) != "" && c.LLM.BaseURL == defaultLLMBaseURL {
		c.LLM.BaseURL = value
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeDeepLX() {
	if c.DeepLX.Endpoint == "" {
		if value, ok := os.LookupEnv("DEEPLX_ENDPOINT"); ok {
			c.DeepLX.Endpoint = value
		}
	}
	c.DeepLX.Endpoint = strings.TrimSpace(c.DeepLX.Endpoint)
}

func (c *Config) normalizeCache() error {
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = filepath.Join(c.Paths.CacheDir, defaultCacheFileName)
	}
	var err error
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("CAPTIONER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text", "pretty":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.ForwardLevel = strings.ToLower(strings.TrimSpace(c.Logging.ForwardLevel))
}
