package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	langpkg "captioner/internal/language"
	"captioner/internal/logging"
	"captioner/internal/progress"
	"captioner/internal/services"
	"captioner/internal/subtitle"
)

// Service extracts audio and runs WhisperX.
type Service struct {
	cfg    Config
	logger *slog.Logger
	runner CommandRunner
}

// Option customizes the service.
type Option func(*Service)

// WithCommandRunner sets a custom command runner (for testing).
func WithCommandRunner(runner CommandRunner) Option {
	return func(s *Service) {
		if runner != nil {
			s.runner = runner
		}
	}
}

// NewService creates a transcription service with the given configuration.
func NewService(cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg.FFmpegBinary == "" {
		cfg.FFmpegBinary = FFmpegCommand
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.VADMethod == "" {
		cfg.VADMethod = VADMethodSilero
	}
	s := &Service{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "transcribe"),
		runner: ExecRunner,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.cfg.Model
}

// ExtractAudio writes the configured audio track of source to dest as a mono
// 16kHz WAV file suitable for WhisperX.
func (s *Service) ExtractAudio(ctx context.Context, source, dest string) error {
	if _, err := os.Stat(source); err != nil {
		return services.Wrap(services.ErrNotFound, "transcribe", "extract audio", "video file not found", err)
	}
	if s.cfg.AudioTrack < 0 {
		return services.Wrap(services.ErrValidation, "transcribe", "extract audio",
			fmt.Sprintf("invalid audio track index %d", s.cfg.AudioTrack), nil)
	}
	start := time.Now()
	s.logger.Debug("extracting audio",
		logging.String("source_file", source),
		logging.Int("audio_index", s.cfg.AudioTrack),
		logging.String("destination", dest),
	)
	if err := s.runner(ctx, s.cfg.FFmpegBinary, buildFFmpegExtractArgs(source, s.cfg.AudioTrack, dest), nil); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrExternalTool, "transcribe", "extract audio", "ffmpeg failed", err)
	}
	s.logger.Debug("audio extracted",
		logging.String("destination", dest),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func buildFFmpegExtractArgs(source string, audioIndex int, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", fmt.Sprintf("0:a:%d", audioIndex),
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
}

// Transcribe runs WhisperX on audio and loads its JSON result. language
// overrides the configured language when non-empty. Progress is reported on a
// 0..100 scale.
func (s *Service) Transcribe(ctx context.Context, audio, language string, reporter progress.Reporter) (*subtitle.Transcript, error) {
	if reporter == nil {
		reporter = progress.Nop
	}
	if strings.TrimSpace(language) == "" {
		language = s.cfg.Language
	}
	outputDir, err := os.MkdirTemp(filepath.Dir(audio), "whisperx-")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "prepare output", "cannot create output directory", err)
	}
	defer os.RemoveAll(outputDir)

	tracker := newProgressTracker(reporter, s.logger)
	tracker.report(5, "loading model")

	start := time.Now()
	s.logger.Info("whisperx transcription started",
		logging.String(logging.FieldEventType, "transcription_started"),
		logging.String("model", s.cfg.Model),
		logging.String("language", langpkg.ToISO2(language)),
		logging.Bool("cuda", s.cfg.CUDAEnabled),
	)
	if err := s.runner(ctx, UVXCommand, s.buildArgs(audio, outputDir, language), tracker.observe); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "whisperx", "transcription failed", err)
	}

	base := strings.TrimSuffix(filepath.Base(audio), filepath.Ext(audio))
	transcript, err := subtitle.LoadWhisperX(filepath.Join(outputDir, base+".json"))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "load result", "whisperx produced no readable output", err)
	}
	tracker.report(100, "transcription finished")
	s.logger.Info("whisperx transcription finished",
		logging.String(logging.FieldEventType, "transcription_completed"),
		logging.Int("segments", transcript.Len()),
		logging.Duration("elapsed", time.Since(start)),
	)
	return transcript, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir, language string) []string {
	args := make([]string, 0, 40)

	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.cfg.Model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
		"--print_progress", "True",
	)

	args = append(args, "--vad_method", s.cfg.VADMethod)
	if s.cfg.VADMethod == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if lang := langpkg.ToISO2(language); lang != "" {
		args = append(args, "--language", lang)
	}

	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}
	return args
}

var progressLine = regexp.MustCompile(`(?i)progress:\s*([0-9]+(?:\.[0-9]+)?)\s*%`)

// progressTracker maps WhisperX output onto 0..100: transcription covers
// 5..80 and alignment 80..95.
type progressTracker struct {
	mu       sync.Mutex
	reporter progress.Reporter
	logger   *slog.Logger
	sampler  *logging.ProgressSampler
	aligning bool
	last     int
}

func newProgressTracker(reporter progress.Reporter, logger *slog.Logger) *progressTracker {
	return &progressTracker{reporter: reporter, logger: logger, sampler: logging.NewProgressSampler(5)}
}

func (t *progressTracker) observe(line string) {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "performing alignment") {
		t.mu.Lock()
		t.aligning = true
		t.mu.Unlock()
		t.report(80, "aligning words")
		return
	}
	match := progressLine.FindStringSubmatch(line)
	if match == nil {
		return
	}
	pct, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return
	}
	if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	aligning := t.aligning
	t.mu.Unlock()
	if aligning {
		t.report(80+int(pct*0.15), "aligning words")
		return
	}
	t.report(5+int(pct*0.75), fmt.Sprintf("transcribing %.0f%%", pct))
}

func (t *progressTracker) report(value int, message string) {
	t.mu.Lock()
	if value < t.last {
		value = t.last
	}
	t.last = value
	logIt := t.sampler.ShouldLog(float64(value), "transcribe")
	t.mu.Unlock()

	t.reporter.Report(value, 100, message)
	if logIt {
		t.logger.Info("transcription progress",
			logging.Int("percent", value),
			logging.String("message", message),
		)
	}
}
