package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"captioner/internal/logging"
	"captioner/internal/services"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	lines []string
	json  string
	err   error
}

func (f *fakeRunner) run(ctx context.Context, name string, args []string, onLine func(string)) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: append([]string(nil), args...)})
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if name == UVXCommand {
		for _, line := range f.lines {
			if onLine != nil {
				onLine(line)
			}
		}
		outDir := argValue(args, "--output_dir")
		source := args[slices.Index(args, "whisperx")+1]
		base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		if f.json != "" {
			return os.WriteFile(filepath.Join(outDir, base+".json"), []byte(f.json), 0o644)
		}
	}
	return nil
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

type reportRecorder struct {
	mu     sync.Mutex
	values []int
}

func (r *reportRecorder) Report(done, total int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total != 100 {
		panic("unexpected total")
	}
	r.values = append(r.values, done)
}

func TestExtractAudioBuildsFFmpegArgs(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "movie.mkv")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	runner := &fakeRunner{}
	svc := NewService(Config{FFmpegBinary: "/opt/ffmpeg", AudioTrack: 1}, logging.NewNop(), WithCommandRunner(runner.run))

	dest := filepath.Join(dir, "audio.wav")
	if err := svc.ExtractAudio(context.Background(), video, dest); err != nil {
		t.Fatalf("ExtractAudio returned error: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0].name != "/opt/ffmpeg" {
		t.Fatalf("unexpected calls: %+v", runner.calls)
	}
	args := strings.Join(runner.calls[0].args, " ")
	for _, want := range []string{"-i " + video, "-map 0:a:1", "-ac 1", "-ar 16000", dest} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in ffmpeg args: %s", want, args)
		}
	}
}

func TestExtractAudioMissingVideo(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewService(Config{}, logging.NewNop(), WithCommandRunner(runner.run))
	err := svc.ExtractAudio(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), "out.wav")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatal("ffmpeg should not run for a missing video")
	}
}

func TestTranscribeParsesProgressAndResult(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "audio.wav")
	runner := &fakeRunner{
		lines: []string{
			"Performing transcription...",
			"Progress: 20.00%...",
			"Progress: 100.00%...",
			"Performing alignment...",
			"Progress: 50.00%...",
			"Progress: 10.00%...",
		},
		json: `{"segments":[{"text":"Hello.","start":0,"end":1,"words":[{"word":"Hello.","start":0,"end":1}]}]}`,
	}
	svc := NewService(Config{Language: "english", VADMethod: VADMethodPyannote, HFToken: "hf"}, logging.NewNop(), WithCommandRunner(runner.run))
	rec := &reportRecorder{}

	tr, err := svc.Transcribe(context.Background(), audio, "", rec)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if tr.Len() != 1 || tr.Segments[0].Text != "Hello." {
		t.Fatalf("unexpected transcript: %+v", tr.Segments)
	}

	want := []int{5, 20, 80, 80, 87, 87, 100}
	if !slices.Equal(rec.values, want) {
		t.Fatalf("unexpected progress: got %v want %v", rec.values, want)
	}

	args := runner.calls[0].args
	if argValue(args, "--language") != "en" {
		t.Fatalf("expected configured language to map to en, args=%v", args)
	}
	if argValue(args, "--hf_token") != "hf" || argValue(args, "--print_progress") != "True" {
		t.Fatalf("missing whisperx flags: %v", args)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected whisperx output dir to be removed, found %d entries", len(entries))
	}
}

func TestTranscribeLanguageOverride(t *testing.T) {
	runner := &fakeRunner{json: `{"segments":[]}`}
	svc := NewService(Config{Language: "en"}, logging.NewNop(), WithCommandRunner(runner.run))
	if _, err := svc.Transcribe(context.Background(), filepath.Join(t.TempDir(), "a.wav"), "ja", nil); err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if got := argValue(runner.calls[0].args, "--language"); got != "ja" {
		t.Fatalf("expected override language ja, got %q", got)
	}
	if slices.Contains(runner.calls[0].args, "--hf_token") {
		t.Fatal("silero runs should not pass an hf token")
	}
}

func TestTranscribeFailureIsExternalToolError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	svc := NewService(Config{}, logging.NewNop(), WithCommandRunner(runner.run))
	_, err := svc.Transcribe(context.Background(), filepath.Join(t.TempDir(), "a.wav"), "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestTranscribeCancelledReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{err: errors.New("signal: killed")}
	svc := NewService(Config{}, logging.NewNop(), WithCommandRunner(runner.run))
	_, err := svc.Transcribe(ctx, filepath.Join(t.TempDir(), "a.wav"), "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScanLinesOrCR(t *testing.T) {
	var got []string
	data := []byte("a\rb\nc")
	for len(data) > 0 {
		advance, token, _ := scanLinesOrCR(data, true)
		got = append(got, string(token))
		data = data[advance:]
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("unexpected tokens %v", got)
	}
}
