package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"captioner/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CAPTIONER_COORDINATOR_URL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"DEEPLX_ENDPOINT",
		"CAPTIONER_NTFY_TOPIC",
		"HF_TOKEN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogs := filepath.Join(tempHome, ".local", "share", "captioner", "logs")
	if cfg.Paths.LogDir != wantLogs {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogs)
	}
	wantCache := filepath.Join(tempHome, ".cache", "captioner", "cache.db")
	if cfg.Cache.Path != wantCache {
		t.Fatalf("unexpected cache path: got %q want %q", cfg.Cache.Path, wantCache)
	}
	if cfg.API.Bind != "127.0.0.1:5000" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Coordinator.URL != "" {
		t.Fatalf("expected no coordinator url by default, got %q", cfg.Coordinator.URL)
	}
	if cfg.Coordinator.KeepaliveInterval != 10 || cfg.Coordinator.ServerTimeout != 30 {
		t.Fatalf("unexpected keepalive settings: %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.MaxReconnectAttempts != 0 {
		t.Fatalf("expected unbounded reconnect by default, got %d", cfg.Coordinator.MaxReconnectAttempts)
	}
	if cfg.Translator.Service != config.TranslatorLLM {
		t.Fatalf("unexpected translator: %q", cfg.Translator.Service)
	}
	if cfg.Subtitle.Layout != config.LayoutTargetAbove {
		t.Fatalf("unexpected layout: %q", cfg.Subtitle.Layout)
	}
	if cfg.Transcribe.VADMethod != "silero" {
		t.Fatalf("expected VAD default to silero, got %q", cfg.Transcribe.VADMethod)
	}
	if cfg.FFmpegBinary() != "ffmpeg" {
		t.Fatalf("unexpected ffmpeg binary: %q", cfg.FFmpegBinary())
	}
	if cfg.LockPath() != filepath.Join(wantLogs, "captioner.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.LogDir, cfg.Paths.CacheDir, cfg.Paths.WorkDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "captioner.toml")

	type payload struct {
		Coordinator struct {
			URL                  string `toml:"url"`
			MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
		} `toml:"coordinator"`
		Translator struct {
			Service string `toml:"service"`
		} `toml:"translator"`
		DeepLX struct {
			Endpoint string `toml:"endpoint"`
		} `toml:"deeplx"`
		Subtitle struct {
			Layout string `toml:"layout"`
		} `toml:"subtitle"`
	}
	custom := payload{}
	custom.Coordinator.URL = "http://coordinator:5001/hubs/worker"
	custom.Coordinator.MaxReconnectAttempts = 7
	custom.Translator.Service = "DeepLX"
	custom.DeepLX.Endpoint = "http://deeplx:1188/translate"
	custom.Subtitle.Layout = "Source-Only"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Coordinator.URL != "http://coordinator:5001/hubs/worker" {
		t.Fatalf("unexpected coordinator url: %q", cfg.Coordinator.URL)
	}
	if cfg.Coordinator.MaxReconnectAttempts != 7 {
		t.Fatalf("expected reconnect cap 7, got %d", cfg.Coordinator.MaxReconnectAttempts)
	}
	if cfg.Translator.Service != config.TranslatorDeepLX {
		t.Fatalf("expected normalized translator service, got %q", cfg.Translator.Service)
	}
	if cfg.Subtitle.Layout != config.LayoutSourceOnly {
		t.Fatalf("expected normalized layout, got %q", cfg.Subtitle.Layout)
	}
	if cfg.Subtitle.BatchSize != config.Default().Subtitle.BatchSize {
		t.Fatalf("expected default batch size, got %d", cfg.Subtitle.BatchSize)
	}
}

func TestEnvVarOverridesConfigFileForAPIKeys(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "captioner.toml")

	type payload struct {
		LLM struct {
			APIKey string `toml:"api_key"`
		} `toml:"llm"`
		Transcribe struct {
			HFToken string `toml:"hf_token"`
		} `toml:"transcribe"`
	}
	custom := payload{}
	custom.LLM.APIKey = "file-llm"
	custom.Transcribe.HFToken = "file-hf"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "env-llm")
	t.Setenv("HF_TOKEN", "env-hf")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "env-llm" {
		t.Errorf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Transcribe.HFToken != "env-hf" {
		t.Errorf("expected HuggingFace token from env, got %q", cfg.Transcribe.HFToken)
	}
}

func TestDotEnvNextToConfigFillsFallbacks(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("CAPTIONER_COORDINATOR_URL")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "captioner.toml")
	if err := os.WriteFile(configPath, []byte("[api]\nbind = \"127.0.0.1:5055\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envBody := "CAPTIONER_COORDINATOR_URL=http://hub.local/worker\n"
	if err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte(envBody), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Coordinator.URL != "http://hub.local/worker" {
		t.Fatalf("expected coordinator url from .env, got %q", cfg.Coordinator.URL)
	}
	if cfg.APIBaseURL() != "http://127.0.0.1:5055" {
		t.Fatalf("unexpected api base url: %q", cfg.APIBaseURL())
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[coordinator]") {
		t.Fatalf("sample config missing coordinator section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.LogDir, "captioner") {
		t.Fatalf("expected log dir to contain captioner, got %q", cfg.Paths.LogDir)
	}
	if cfg.Translator.Service != config.TranslatorLLM {
		t.Fatalf("unexpected sample translator: %q", cfg.Translator.Service)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Translator.Service = "babelfish"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown translator")
	}

	cfg = config.Default()
	cfg.Coordinator.ServerTimeout = cfg.Coordinator.KeepaliveInterval
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when server timeout <= keepalive interval")
	}

	cfg = config.Default()
	cfg.Coordinator.URL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for relative coordinator url")
	}

	cfg = config.Default()
	cfg.Translator.Service = config.TranslatorDeepLX
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when deeplx selected without endpoint")
	}

	cfg = config.Default()
	cfg.Subtitle.Layout = "sideways"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown layout")
	}

	cfg = config.Default()
	cfg.Transcribe.VADMethod = "pyannote"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when pyannote has no hf token")
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
