package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"captioner/internal/api"
	"captioner/internal/cache"
	"captioner/internal/config"
	"captioner/internal/connection"
	"captioner/internal/dispatch"
	"captioner/internal/llm"
	"captioner/internal/logging"
	"captioner/internal/metrics"
	"captioner/internal/node"
	"captioner/internal/notifications"
	"captioner/internal/optimize"
	"captioner/internal/pipeline"
	"captioner/internal/preflight"
	"captioner/internal/signalr"
	"captioner/internal/subtitle"
	"captioner/internal/task"
	"captioner/internal/transcribe"
	"captioner/internal/translate"
)

// Components that never forward their own records to the coordinator.
var remoteSkip = []string{"connection", "dispatch", "signalr"}

// Daemon owns the worker node's components and their lifecycle.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn       *connection.Manager
	dispatcher *dispatch.Dispatcher
	tasks      *task.Manager
	executor   *pipeline.Executor
	node       *node.Service
	api        *api.Server
	cache      *cache.Store
	remote     *logging.RemoteHandler

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Connection   connection.Status
	Worker       node.Status
	APIAddress   string
	LockFilePath string
}

// Option customizes construction, mostly for tests.
type Option func(*options)

type options struct {
	dialer      connection.Dialer
	transcriber pipeline.Transcriber
}

// WithDialer replaces the SignalR dialer.
func WithDialer(d connection.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTranscriber replaces the WhisperX transcription service.
func WithTranscriber(t pipeline.Transcriber) Option {
	return func(o *options) { o.transcriber = t }
}

// New constructs a daemon with every component wired.
func New(cfg *config.Config, logger *slog.Logger, info node.Info, opts ...Option) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{
		cfg:      cfg,
		metrics:  metrics.New(),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	dialer := o.dialer
	if dialer == nil {
		dialer = connection.SignalRDialer(signalr.Options{
			KeepaliveInterval: time.Duration(cfg.Coordinator.KeepaliveInterval) * time.Second,
			ServerTimeout:     time.Duration(cfg.Coordinator.ServerTimeout) * time.Second,
			HandshakeTimeout:  time.Duration(cfg.Coordinator.HandshakeTimeout) * time.Second,
			Logger:            logging.NewComponentLogger(logger, "signalr"),
		})
	}
	d.conn = connection.NewManager(
		connection.WithDialer(dialer),
		connection.WithLogger(logger),
		connection.WithObserver(d.metrics.ConnectionObserver()),
		connection.WithReconnectPolicy(connection.DefaultSchedule, cfg.Coordinator.MaxReconnectAttempts),
	)
	d.dispatcher = dispatch.New(d.conn, logger, dispatch.WithRecorder(d.metrics))

	if cfg.Logging.ForwardLevel != "" {
		d.remote = logging.NewRemoteHandler(d.dispatcher, logging.ParseLevel(cfg.Logging.ForwardLevel), remoteSkip...)
		logger = logging.TeeLogger(logger, d.remote)
	}
	d.logger = logging.NewComponentLogger(logger, "daemon")

	stages, err := d.buildStages(logger, o.transcriber)
	if err != nil {
		d.closeResources()
		return nil, err
	}

	d.tasks = task.NewManager(logger)
	d.executor = pipeline.New(d.tasks, stages, pipeline.Options{
		WorkDir:       cfg.Paths.WorkDir,
		Language:      cfg.Transcribe.Language,
		NeedSplit:     cfg.Subtitle.NeedSplit,
		NeedOptimize:  cfg.Subtitle.NeedOptimize,
		NeedTranslate: cfg.Subtitle.NeedTranslate,
		Layout:        cfg.Subtitle.Layout,
		Style:         cfg.Subtitle.Style,
		Recorder:      d.metrics,
	}, logger)

	d.node = node.New(info, d.tasks, d.executor, d.dispatcher, notifications.NewService(cfg), logger)
	d.tasks.SetObserver(d.node)
	d.node.Register()
	d.dispatcher.Init()

	d.api = api.NewServer(d.conn, d.node, api.Options{
		Bind:           cfg.API.Bind,
		Metrics:        d.metrics.Handler(),
		ConnectTimeout: time.Duration(cfg.Coordinator.HandshakeTimeout+cfg.Coordinator.ServerTimeout) * time.Second,
	}, logger)
	return d, nil
}

// buildStages constructs the pipeline collaborators enabled by the config.
// Disabled stages stay nil interfaces.
func (d *Daemon) buildStages(logger *slog.Logger, transcriber pipeline.Transcriber) (pipeline.Collaborators, error) {
	cfg := d.cfg
	var stages pipeline.Collaborators

	if transcriber == nil {
		transcriber = transcribe.NewService(transcribe.Config{
			Model:        cfg.Transcribe.Model,
			Language:     cfg.Transcribe.Language,
			CUDAEnabled:  cfg.Transcribe.CUDAEnabled,
			VADMethod:    cfg.Transcribe.VADMethod,
			HFToken:      cfg.Transcribe.HFToken,
			FFmpegBinary: cfg.FFmpegBinary(),
			AudioTrack:   cfg.Transcribe.AudioTrack,
		}, logger)
	}
	stages.Transcriber = transcriber

	if cfg.Subtitle.NeedSplit {
		stages.Splitter = subtitle.NewSplitter(cfg.Subtitle.MaxWordCountCJK, cfg.Subtitle.MaxWordCountEnglish)
	}

	if cfg.Cache.Enabled && (cfg.Subtitle.NeedOptimize || cfg.Subtitle.NeedTranslate) {
		store, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			logging.WarnWithContext(d.logger, "line cache unavailable", "cache_open_failed",
				logging.String("path", cfg.Cache.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "every line is sent to the backend"),
			)
		} else {
			d.cache = store
		}
	}

	var client *llm.Client
	if cfg.UsesLLM() {
		llmLogger := logging.NewComponentLogger(logger, "llm")
		client = llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}, llm.WithRetryNotify(func(err error, delay time.Duration) {
			logging.WarnWithContext(llmLogger, "llm request failed, retrying", "llm_retry",
				logging.Error(err),
				logging.Duration("delay", delay),
				logging.String(logging.FieldImpact, "subtitle stage slows down until the backend recovers"),
			)
		}))
	}

	if cfg.Subtitle.NeedOptimize {
		opts := optimize.Options{
			BatchSize:         cfg.Subtitle.BatchSize,
			Workers:           cfg.Subtitle.ThreadNum,
			RequestsPerSecond: cfg.Translator.RequestsPerSecond,
			CustomPrompt:      cfg.Subtitle.CustomPrompt,
		}
		if d.cache != nil {
			opts.Cache = d.cache
		}
		optimizer, err := optimize.New(client, opts, logger)
		if err != nil {
			return stages, fmt.Errorf("build optimizer: %w", err)
		}
		stages.Optimizer = optimizer
	}

	if cfg.Subtitle.NeedTranslate {
		opts := translate.EngineOptions{
			Workers:           cfg.Subtitle.ThreadNum,
			RequestsPerSecond: cfg.Translator.RequestsPerSecond,
		}
		if d.cache != nil {
			opts.Cache = d.cache
		}
		engine, err := translate.NewEngine(translate.FromConfig(cfg, client), opts, logger)
		if err != nil {
			return stages, fmt.Errorf("build translator: %w", err)
		}
		stages.Translator = engine
	}
	return stages, nil
}

// Start acquires the lock, runs preflight checks, serves the control API,
// and connects to the configured coordinator.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another captioner daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.cancel = cancel
	d.running.Store(true)

	d.runPreflight(runCtx)

	if url := d.cfg.Coordinator.URL; url != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.autoConnect(runCtx, url)
		}()
	}

	d.logger.Info("captioner daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()),
	)
	return nil
}

func (d *Daemon) autoConnect(ctx context.Context, url string) {
	timeout := time.Duration(d.cfg.Coordinator.HandshakeTimeout+d.cfg.Coordinator.ServerTimeout) * time.Second
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.conn.Connect(connectCtx, url); err != nil {
		logging.WarnWithContext(d.logger, "auto-connect to coordinator failed", "auto_connect_failed",
			logging.String("master_url", url),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "use captioner connect or /set-master once the hub is up"),
		)
	}
}

func (d *Daemon) runPreflight(ctx context.Context) {
	for _, dep := range preflight.CheckSystemDeps(d.cfg) {
		if dep.Available {
			continue
		}
		logging.WarnWithContext(d.logger, "dependency unavailable", "dependency_missing",
			logging.String("dependency", dep.Name),
			logging.String("command", dep.Command),
			logging.String("detail", dep.Detail),
			logging.Bool("optional", dep.Optional),
			logging.String(logging.FieldImpact, dep.Description),
		)
	}
	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}
}

// Stop cancels any running task, drops the coordinator channel, stops the
// API, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	if snap, ok := d.tasks.Current(); ok && !snap.State.Terminal() {
		d.tasks.StopTask(snap.ID)
	}
	d.executor.Wait()
	d.conn.Disconnect()
	d.api.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.cancel = nil
	d.running.Store(false)
	d.logger.Info("captioner daemon stopped")
}

// Close stops the daemon and releases every resource.
func (d *Daemon) Close() error {
	d.Stop()
	d.executor.Close()
	d.tasks.Close()
	return d.closeResources()
}

func (d *Daemon) closeResources() error {
	if d.remote != nil {
		d.remote.Close()
		d.remote = nil
	}
	if d.cache != nil {
		err := d.cache.Close()
		d.cache = nil
		return err
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Connection:   d.conn.Status(),
		Worker:       d.node.Status(),
		APIAddress:   d.api.Addr(),
		LockFilePath: d.lockPath,
	}
}

// Wait blocks until any running pipeline goroutine has exited.
func (d *Daemon) Wait() {
	d.executor.Wait()
}
