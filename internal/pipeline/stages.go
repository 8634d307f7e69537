package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"captioner/internal/language"
	"captioner/internal/logging"
	"captioner/internal/progress"
	"captioner/internal/services"
	"captioner/internal/subtitle"
	"captioner/internal/task"
	"captioner/internal/textutil"
)

// Stage names used in failure reasons and logs.
const (
	StageTranscribe = "transcribe"
	StageSplit      = "split"
	StageOptimize   = "optimize"
	StageTranslate  = "translate"
	StagePersist    = "persist"
)

// Progress landmarks on the 0-10000 scale.
const (
	progressPrepareAudio = 500
	progressTranscribe   = 1000
	progressTranscribed  = 5000
	progressSplit        = 6000
	progressOptimized    = 7000
)

const (
	audioFileName = "audio.wav"
	workDirPrefix = "task"
)

type runner struct {
	exec  *Executor
	snap  task.Snapshot
	token *task.Token
	sink  progress.Sink
}

func (r *runner) checkpoint() error {
	return r.token.Err()
}

func (r *runner) update(value int, state task.State, message string) {
	if r.token.Cancelled() {
		return
	}
	r.sink.Update(value, string(state), message)
}

// stages runs every stage in order and returns the name of the stage that
// stopped the run.
func (r *runner) stages(ctx context.Context) (string, error) {
	steps := []struct {
		name string
		fn   func(context.Context, *subtitle.Transcript) (*subtitle.Transcript, error)
	}{
		{StageTranscribe, r.transcribe},
		{StageSplit, r.split},
		{StageOptimize, r.optimize},
		{StageTranslate, r.translate},
		{StagePersist, r.persist},
	}
	var transcript *subtitle.Transcript
	for _, step := range steps {
		if err := r.checkpoint(); err != nil {
			return step.name, err
		}
		stageCtx := services.WithStage(ctx, step.name)
		next, err := step.fn(stageCtx, transcript)
		if err != nil {
			return step.name, err
		}
		transcript = next
		if err := r.checkpoint(); err != nil {
			return step.name, err
		}
	}
	return "", nil
}

func (r *runner) transcribe(ctx context.Context, _ *subtitle.Transcript) (*subtitle.Transcript, error) {
	opts := r.exec.opts
	r.update(0, task.StateTranscribing, "preparing transcription")

	workDir, err := r.workDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	r.update(progressPrepareAudio, task.StateTranscribing, "preparing audio")
	audio := filepath.Join(workDir, audioFileName)
	if err := r.exec.stages.Transcriber.ExtractAudio(ctx, r.snap.VideoPath, audio); err != nil {
		return nil, err
	}
	if err := r.checkpoint(); err != nil {
		return nil, err
	}

	r.update(progressTranscribe, task.StateTranscribing, "transcribing")
	lang := r.snap.Language
	if lang == "" {
		lang = opts.Language
	}
	if lang != "" {
		if code := language.ToISO2(lang); code != "" {
			lang = code
		}
	}
	span := progress.Span{Sink: r.guardedSink(), From: progressTranscribe, To: progressTranscribed, State: string(task.StateTranscribing)}
	transcript, err := r.exec.stages.Transcriber.Transcribe(ctx, audio, lang, span)
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(); err != nil {
		return nil, err
	}
	if transcript == nil || transcript.Len() == 0 {
		return nil, services.Wrap(services.ErrValidation, "", "check transcript", "no speech was recognized", nil)
	}

	if err := saveSubtitle(r.snap.RawSubtitlePath, transcript, subtitle.LayoutSourceOnly, opts.Style); err != nil {
		return nil, err
	}
	r.update(progressTranscribed, task.StateTranscribing, "transcription saved")
	return transcript, nil
}

func (r *runner) split(_ context.Context, t *subtitle.Transcript) (*subtitle.Transcript, error) {
	splitter := r.exec.stages.Splitter
	if !r.exec.opts.NeedSplit || splitter == nil {
		return t, nil
	}
	if !t.HasWordTiming() {
		r.exec.logger.Debug("transcript lacks word timing, synthesizing it for split", logging.TaskID(r.snap.ID))
	}
	r.update(progressTranscribed, task.StateOptimizing, "splitting sentences")
	out := splitter.Split(t)
	if out == nil || out.Len() == 0 {
		return nil, services.Wrap(services.ErrValidation, "", "split sentences", "splitter produced no cues", nil)
	}
	r.update(progressSplit, task.StateOptimizing, "sentences split")
	return out, nil
}

func (r *runner) optimize(ctx context.Context, t *subtitle.Transcript) (*subtitle.Transcript, error) {
	optimizer := r.exec.stages.Optimizer
	if !r.exec.opts.NeedOptimize || optimizer == nil {
		return t, nil
	}
	span := progress.Span{Sink: r.guardedSink(), From: progressSplit, To: progressOptimized, State: string(task.StateOptimizing)}
	span.Start("optimizing subtitles")
	if err := optimizer.Optimize(ctx, t, span, r.checkpoint); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *runner) translate(ctx context.Context, t *subtitle.Transcript) (*subtitle.Transcript, error) {
	translator := r.exec.stages.Translator
	if !r.exec.opts.NeedTranslate || translator == nil {
		return t, nil
	}
	span := progress.Span{Sink: r.guardedSink(), From: progressOptimized, To: progress.Max, State: string(task.StateTranslating)}
	span.Start("translating subtitles")
	if err := translator.Translate(ctx, t, span, r.checkpoint); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *runner) persist(_ context.Context, t *subtitle.Transcript) (*subtitle.Transcript, error) {
	layout := r.exec.opts.Layout
	if !r.exec.opts.NeedTranslate {
		layout = subtitle.LayoutSourceOnly
	}
	if err := saveSubtitle(r.snap.TranslatedSubtitlePath, t, layout, r.exec.opts.Style); err != nil {
		return nil, err
	}
	return t, nil
}

// guardedSink drops collaborator reports once the token fires.
func (r *runner) guardedSink() progress.Sink {
	return progress.SinkFunc(func(value int, state, message string) {
		if r.token.Cancelled() {
			return
		}
		r.sink.Update(value, state, message)
	})
}

func (r *runner) workDir() (string, error) {
	root := r.exec.opts.WorkDir
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "", "create work dir", root, err)
	}
	stem := strings.TrimSuffix(filepath.Base(r.snap.VideoPath), filepath.Ext(r.snap.VideoPath))
	pattern := fmt.Sprintf("%s-%d-%s-*", workDirPrefix, r.snap.ID, textutil.SanitizeToken(stem))
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "", "create work dir", root, err)
	}
	return dir, nil
}

func saveSubtitle(path string, t *subtitle.Transcript, layout, style string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "", "create subtitle dir", filepath.Dir(path), err)
	}
	if err := subtitle.Save(path, t, layout, style); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrNotFound, "", "verify subtitle", path, err)
	}
	return nil
}
