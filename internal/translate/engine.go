package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"captioner/internal/batch"
	"captioner/internal/cache"
	"captioner/internal/logging"
	"captioner/internal/progress"
	"captioner/internal/subtitle"
)

// Cache is the subset of cache.Store the engine uses.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, kind, key, value string) error
}

// EngineOptions tunes an Engine.
type EngineOptions struct {
	Workers           int
	RequestsPerSecond float64
	Cache             Cache
}

// Engine translates transcripts with a resolved Translator.
type Engine struct {
	translator Translator
	scope      string
	target     string
	batchSize  int
	workers    int
	limiter    *rate.Limiter
	cache      Cache
	logger     *slog.Logger
}

// NewEngine resolves backend and wraps it with batching, caching, and rate
// limiting.
func NewEngine(backend Backend, opts EngineOptions, logger *slog.Logger) (*Engine, error) {
	translator, err := New(backend)
	if err != nil {
		return nil, err
	}
	return newEngine(translator, backend, opts, logger), nil
}

func newEngine(translator Translator, backend Backend, opts EngineOptions, logger *slog.Logger) *Engine {
	e := &Engine{
		translator: translator,
		scope:      backend.Scope(),
		target:     backend.Target,
		batchSize:  backend.BatchSize(),
		workers:    max(opts.Workers, 1),
		cache:      opts.Cache,
		logger:     logging.NewComponentLogger(logger, "translate"),
	}
	if opts.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), e.workers)
	}
	return e
}

// Name identifies the backend for logs.
func (e *Engine) Name() string {
	return e.scope
}

// Translate fills in Translation for every cue of t. reporter receives
// done/total over cues; checkpoint is consulted before every batch.
func (e *Engine) Translate(ctx context.Context, t *subtitle.Transcript, reporter progress.Reporter, checkpoint func() error) error {
	texts := t.Texts()
	translations := make([]string, len(texts))
	counter := progress.NewCounter(reporter, len(texts), "translating")

	var (
		pendingIdx   []int
		pendingLines []string
	)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			counter.Add(1)
			continue
		}
		if cached, ok := e.lookup(ctx, text); ok {
			translations[i] = cached
			counter.Add(1)
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingLines = append(pendingLines, text)
	}

	start := time.Now()
	e.logger.Info("translation started",
		logging.String(logging.FieldEventType, "translation_started"),
		logging.String("backend", e.scope),
		logging.String("target", e.target),
		logging.Int("lines", len(texts)),
		logging.Int("cached", len(texts)-len(pendingLines)),
		logging.Int("batch_size", e.batchSize),
	)

	results, err := batch.Run(ctx, pendingLines, batch.Options{
		BatchSize:  e.batchSize,
		Workers:    e.workers,
		Limiter:    e.limiter,
		Checkpoint: checkpoint,
		Progress:   counter,
	}, e.translateBatch)
	if err != nil {
		return fmt.Errorf("translate with %s: %w", e.scope, err)
	}
	for j, idx := range pendingIdx {
		translations[idx] = results[j]
	}
	if err := t.SetTranslations(translations); err != nil {
		return err
	}
	e.logger.Info("translation finished",
		logging.String(logging.FieldEventType, "translation_completed"),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (e *Engine) translateBatch(ctx context.Context, lines []string) ([]string, error) {
	out, err := e.translator.Translate(ctx, lines)
	if err != nil {
		return nil, err
	}
	if len(out) == len(lines) {
		for i, line := range lines {
			e.store(ctx, line, out[i])
		}
	}
	return out, nil
}

func (e *Engine) key(text string) string {
	return cache.Key(cache.KindTranslation, e.scope, e.target, text)
}

func (e *Engine) lookup(ctx context.Context, text string) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	value, ok, err := e.cache.Get(ctx, e.key(text))
	if err != nil {
		e.logger.Debug("translation cache read failed", logging.Error(err))
		return "", false
	}
	return value, ok
}

func (e *Engine) store(ctx context.Context, text, translated string) {
	if e.cache == nil || strings.TrimSpace(translated) == "" {
		return
	}
	if err := e.cache.Put(ctx, cache.KindTranslation, e.key(text), translated); err != nil {
		e.logger.Debug("translation cache write failed", logging.Error(err))
	}
}
