package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"captioner/internal/config"
	"captioner/internal/daemon"
	"captioner/internal/logging"
	"captioner/internal/node"
	"captioner/internal/progress"
	"captioner/internal/subtitle"
)

type blockingTranscriber struct {
	started chan struct{}
}

func (b *blockingTranscriber) ExtractAudio(_ context.Context, _, dest string) error {
	return os.WriteFile(dest, []byte("RIFF"), 0o644)
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, _, _ string, _ progress.Reporter) (*subtitle.Transcript, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

type cliTestEnv struct {
	baseDir     string
	apiAddr     string
	transcriber *blockingTranscriber
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("CAPTIONER_COORDINATOR_URL", "")
	t.Setenv("CAPTIONER_NTFY_TOPIC", "")
	return home
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	isolateHome(t)

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.API.Bind = "127.0.0.1:0"
	cfg.Subtitle.NeedTranslate = false
	cfg.Subtitle.NeedOptimize = false
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	transcriber := &blockingTranscriber{started: make(chan struct{})}
	d, err := daemon.New(&cfg, logging.NewNop(), node.Info{AppName: "captioner", Version: "test"}, daemon.WithTranscriber(transcriber))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})
	return &cliTestEnv{baseDir: base, apiAddr: d.Status().APIAddress, transcriber: transcriber}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	isolateHome(t)

	out, _, err := runCLI(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "defaults were used")
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	out, _, err = runCLI(t, "--config", target, "config", "validate")
	if err != nil {
		t.Fatalf("validate sample: %v", err)
	}
	requireContains(t, out, "Config path: "+target)
}

func TestStatusWhenDaemonIsDown(t *testing.T) {
	isolateHome(t)

	out, _, err := runCLI(t, "--api", "127.0.0.1:1", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
}

func TestStartStatusStop(t *testing.T) {
	env := setupCLITestEnv(t)
	video := filepath.Join(env.baseDir, "movie.mkv")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}

	out, _, err := runCLI(t, "--api", env.apiAddr, "start", video)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Task 1 started")

	select {
	case <-env.transcriber.started:
	case <-time.After(5 * time.Second):
		t.Fatal("transcription never started")
	}

	if _, _, err := runCLI(t, "--api", env.apiAddr, "start", video); err == nil {
		t.Fatal("expected second start to be rejected while busy")
	}

	out, _, err = runCLI(t, "--api", env.apiAddr, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "busy")
	requireContains(t, out, "movie.mkv")

	out, _, err = runCLI(t, "--api", env.apiAddr, "stop", "1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Task 1 stopped")

	if _, _, err := runCLI(t, "--api", env.apiAddr, "stop", "abc"); err == nil {
		t.Fatal("expected invalid task id to fail")
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, "--api", env.apiAddr, "connect", "not-a-url"); err == nil {
		t.Fatal("expected invalid hub url to fail")
	}

	out, _, err := runCLI(t, "--api", env.apiAddr, "disconnect")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	requireContains(t, out, "disconnected")
}

func TestFormatProgress(t *testing.T) {
	cases := map[int]string{0: "0.00%", 500: "5.00%", 4321: "43.21%", 10000: "100.00%"}
	for value, want := range cases {
		if got := formatProgress(value); got != want {
			t.Fatalf("formatProgress(%d) = %q, want %q", value, got, want)
		}
	}
}
