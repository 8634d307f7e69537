package optimize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"captioner/internal/batch"
	"captioner/internal/cache"
	"captioner/internal/llm"
	"captioner/internal/logging"
	"captioner/internal/progress"
	"captioner/internal/subtitle"
	"captioner/internal/textutil"
)

const systemPrompt = `You correct automatic speech recognition output for subtitles.
The input is a JSON object mapping line numbers to subtitle lines. Fix misheard words, obvious typos, wrong homophones, technical terms and punctuation.
Keep the original language, meaning and wording wherever it is already correct. Never merge, split, drop, reorder or translate lines.
Reply with a JSON object using exactly the same keys, each mapped to the corrected line.`

const (
	// DefaultBatchSize is the number of lines per model request.
	DefaultBatchSize = 10
	// DefaultMinSimilarity is the lowest bigram similarity a correction may
	// have to its source line before it is rejected.
	DefaultMinSimilarity = 0.5
)

// ErrMissingClient is returned when no LLM client is configured.
var ErrMissingClient = errors.New("optimize requires an llm client")

// Completer is the slice of llm.Client the optimizer uses.
type Completer interface {
	CompleteJSONInto(ctx context.Context, systemPrompt, userPrompt string, target any) error
	Model() string
}

// Cache stores corrected lines.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, kind, key, value string) error
}

// Options tune batching and guard rails.
type Options struct {
	BatchSize         int
	Workers           int
	RequestsPerSecond float64
	MinSimilarity     float64
	CustomPrompt      string
	Cache             Cache
}

// Optimizer runs LLM corrections over a transcript.
type Optimizer struct {
	client        Completer
	batchSize     int
	workers       int
	limiter       *rate.Limiter
	minSimilarity float64
	customPrompt  string
	cache         Cache
	logger        *slog.Logger
}

// New constructs an Optimizer. client is usually an *llm.Client.
func New(client Completer, opts Options, logger *slog.Logger) (*Optimizer, error) {
	if client == nil {
		return nil, ErrMissingClient
	}
	if c, ok := client.(*llm.Client); ok && c == nil {
		return nil, ErrMissingClient
	}
	o := &Optimizer{
		client:        client,
		batchSize:     opts.BatchSize,
		workers:       max(opts.Workers, 1),
		minSimilarity: opts.MinSimilarity,
		customPrompt:  strings.TrimSpace(opts.CustomPrompt),
		cache:         opts.Cache,
		logger:        logging.NewComponentLogger(logger, "optimize"),
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.minSimilarity <= 0 {
		o.minSimilarity = DefaultMinSimilarity
	}
	if opts.RequestsPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), o.workers)
	}
	return o, nil
}

// Optimize rewrites the text of every cue in t. reporter receives done/total
// over cues; checkpoint is consulted before every batch.
func (o *Optimizer) Optimize(ctx context.Context, t *subtitle.Transcript, reporter progress.Reporter, checkpoint func() error) error {
	texts := t.Texts()
	corrected := make([]string, len(texts))
	copy(corrected, texts)
	counter := progress.NewCounter(reporter, len(texts), "optimizing")

	var (
		pendingIdx   []int
		pendingLines []string
	)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			counter.Add(1)
			continue
		}
		if cached, ok := o.lookup(ctx, text); ok {
			corrected[i] = cached
			counter.Add(1)
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingLines = append(pendingLines, text)
	}

	start := time.Now()
	o.logger.Info("optimization started",
		logging.String(logging.FieldEventType, "optimization_started"),
		logging.String("model", o.client.Model()),
		logging.Int("lines", len(texts)),
		logging.Int("cached", len(texts)-len(pendingLines)),
	)

	results, err := batch.Run(ctx, pendingLines, batch.Options{
		BatchSize:  o.batchSize,
		Workers:    o.workers,
		Limiter:    o.limiter,
		Checkpoint: checkpoint,
		Progress:   counter,
	}, o.optimizeBatch)
	if err != nil {
		return fmt.Errorf("optimize with %s: %w", o.client.Model(), err)
	}
	rejected := 0
	for j, idx := range pendingIdx {
		if results[j] == texts[idx] {
			continue
		}
		if !o.accept(texts[idx], results[j]) {
			rejected++
			continue
		}
		corrected[idx] = results[j]
		o.store(ctx, texts[idx], results[j])
	}
	if err := t.SetTexts(corrected); err != nil {
		return err
	}
	o.logger.Info("optimization finished",
		logging.String(logging.FieldEventType, "optimization_completed"),
		logging.Int("rejected", rejected),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// accept reports whether a correction stays close enough to its source.
func (o *Optimizer) accept(original, candidate string) bool {
	if strings.TrimSpace(candidate) == "" {
		return false
	}
	score := textutil.Similarity(normalizeForCompare(original), normalizeForCompare(candidate))
	if score < o.minSimilarity {
		o.logger.Debug("correction rejected",
			logging.String("original", original),
			logging.String("candidate", candidate),
			logging.Float64("similarity", score),
		)
		return false
	}
	return true
}

// optimizeBatch never fails on a partial response: missing lines keep their
// recognized text.
func (o *Optimizer) optimizeBatch(ctx context.Context, lines []string) ([]string, error) {
	payload := make(map[string]string, len(lines))
	for i, line := range lines {
		payload[strconv.Itoa(i+1)] = line
	}
	user, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode lines: %w", err)
	}
	system := systemPrompt
	if o.customPrompt != "" {
		system += "\n\nReference material (terms, names, subject):\n" + o.customPrompt
	}

	var decoded map[string]string
	if err := o.client.CompleteJSONInto(ctx, system, string(user), &decoded); err != nil {
		return nil, err
	}
	out := make([]string, len(lines))
	copy(out, lines)
	for key, text := range decoded {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || n < 1 || n > len(lines) {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			out[n-1] = text
		}
	}
	return out, nil
}

func (o *Optimizer) key(text string) string {
	return cache.Key(cache.KindOptimization, "llm:"+o.client.Model(), "", text)
}

func (o *Optimizer) lookup(ctx context.Context, text string) (string, bool) {
	if o.cache == nil {
		return "", false
	}
	value, ok, err := o.cache.Get(ctx, o.key(text))
	if err != nil {
		o.logger.Debug("optimization cache read failed", logging.Error(err))
		return "", false
	}
	return value, ok
}

func (o *Optimizer) store(ctx context.Context, text, value string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Put(ctx, cache.KindOptimization, o.key(text), value); err != nil {
		o.logger.Debug("optimization cache write failed", logging.Error(err))
	}
}

// normalizeForCompare drops punctuation and case so that punctuation fixes
// never count as drift.
func normalizeForCompare(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r == ' ':
			b.WriteRune(r)
		case strings.ContainsRune(",.!?;:\"'()[]-，。！？；：、“”‘’（）…", r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
