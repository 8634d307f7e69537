package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateCoordinator(); err != nil {
		return err
	}
	if err := c.validateTranscribe(); err != nil {
		return err
	}
	if err := c.validateSubtitle(); err != nil {
		return err
	}
	if err := c.validateTranslator(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !strings.Contains(c.API.Bind, ":") {
		return fmt.Errorf("api.bind must be host:port, got %q", c.API.Bind)
	}
	return nil
}

func (c *Config) validateCoordinator() error {
	if c.Coordinator.URL != "" {
		parsed, err := url.Parse(c.Coordinator.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("coordinator.url must be an absolute URL, got %q", c.Coordinator.URL)
		}
	}
	if c.Coordinator.ServerTimeout <= c.Coordinator.KeepaliveInterval {
		return errors.New("coordinator.server_timeout must be greater than coordinator.keepalive_interval")
	}
	return nil
}

func (c *Config) validateTranscribe() error {
	switch c.Transcribe.VADMethod {
	case "silero", "pyannote":
	default:
		return fmt.Errorf("transcribe.vad_method must be silero or pyannote, got %q", c.Transcribe.VADMethod)
	}
	if c.Transcribe.VADMethod == "pyannote" && strings.TrimSpace(c.Transcribe.HFToken) == "" {
		return errors.New("transcribe.hf_token must be set when transcribe.vad_method is pyannote")
	}
	return nil
}

func (c *Config) validateSubtitle() error {
	switch c.Subtitle.Layout {
	case LayoutSourceAbove, LayoutTargetAbove, LayoutSourceOnly, LayoutTargetOnly:
	default:
		return fmt.Errorf("subtitle.layout %q is not supported", c.Subtitle.Layout)
	}
	if c.Subtitle.ThreadNum > 64 {
		return errors.New("subtitle.thread_num must be 64 or less")
	}
	return nil
}

func (c *Config) validateTranslator() error {
	switch c.Translator.Service {
	case TranslatorLLM, TranslatorDeepLX, TranslatorGoogle, TranslatorBing:
	default:
		return fmt.Errorf("translator.service must be one of llm, deeplx, google, bing; got %q", c.Translator.Service)
	}
	if c.Subtitle.NeedTranslate && c.Translator.Service == TranslatorDeepLX && c.DeepLX.Endpoint == "" {
		return errors.New("deeplx.endpoint must be set when translator.service is deeplx")
	}
	if c.Subtitle.NeedReflect && c.Translator.Service != TranslatorLLM {
		return errors.New("subtitle.need_reflect requires translator.service = llm")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	for key, value := range map[string]string{"logging.level": c.Logging.Level, "logging.forward_level": c.Logging.ForwardLevel} {
		switch value {
		case "", "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("%s %q is not a recognised level", key, value)
		}
	}
	return nil
}
