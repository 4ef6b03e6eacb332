package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidgate/internal/asyncmedia"
	"github.com/jmylchreest/vidgate/internal/catalog"
	"github.com/jmylchreest/vidgate/internal/config"
	"github.com/jmylchreest/vidgate/internal/database"
	"github.com/jmylchreest/vidgate/internal/eventwriter"
	"github.com/jmylchreest/vidgate/internal/httpclient"
	"github.com/jmylchreest/vidgate/internal/motionfilter"
	"github.com/jmylchreest/vidgate/internal/notify"
	"github.com/jmylchreest/vidgate/internal/observability"
	"github.com/jmylchreest/vidgate/internal/pipeline"
	"github.com/jmylchreest/vidgate/internal/repository"
	"github.com/jmylchreest/vidgate/internal/source"
	"github.com/jmylchreest/vidgate/internal/storage"
	"github.com/jmylchreest/vidgate/internal/upload"
	"github.com/jmylchreest/vidgate/internal/urlutil"
	"github.com/jmylchreest/vidgate/internal/version"
)

// Pending clips older than this are from a previous run.
const stalePendingAge = time.Hour

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch a stream and record motion events",
	Long: `Read an H.264 MPEG-TS stream and record motion events.

The input is a file path, a file:// URL, an http(s) URL or "-" for stdin.
Each event is written as <output.dir>/<stream>/<event_id>.ts. With
--dry-run events are only logged.

SIGINT and SIGTERM stop the run gracefully: the active event is closed and
pending hooks are flushed.`,
	Example: `  vidgate run --input rtsp-dump.ts --stream porch
  ffmpeg -i rtsp://cam/stream -c copy -f mpegts - | vidgate run --input - --stream garage`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("input", "", "input file, URL or - for stdin")
	runCmd.Flags().String("stream", "", "stream name (overrides output.stream)")
	runCmd.Flags().String("output-dir", "", "clip directory (overrides output.dir)")
	runCmd.Flags().Bool("dry-run", false, "detect and log events without writing clips or running hooks")
	_ = runCmd.MarkFlagRequired("input")
}

type runFlags struct {
	input  string
	dryRun bool
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var flags runFlags
	flags.input, _ = cmd.Flags().GetString("input")
	flags.dryRun, _ = cmd.Flags().GetBool("dry-run")
	if cmd.Flags().Changed("stream") {
		cfg.Output.Stream, _ = cmd.Flags().GetString("stream")
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Dir, _ = cmd.Flags().GetString("output-dir")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := urlutil.ValidateInput(flags.input); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger = observability.WithStream(logger, cfg.Output.Stream).With(slog.String("run_id", runID))
	ctx := observability.ContextWithRunID(context.Background(), runID)
	ctx = observability.ContextWithLogger(ctx, logger)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting vidgate",
		slog.String("version", version.Short()),
		slog.String("input", flags.input),
		slog.Bool("dry_run", flags.dryRun))

	return run(ctx, sigCtx, cfg, flags, logger)
}

func run(ctx, sigCtx context.Context, cfg *config.Config, flags runFlags, logger *slog.Logger) (err error) {
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(reg)
		srv := serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pipeline.Init()

	hc := httpclient.DefaultConfig()
	hc.Logger = observability.WithComponent(logger, "httpclient")
	// The input outlives a signal: Cancel drains the filter while frames
	// still arrive.
	input, err := urlutil.NewOpener(httpclient.New(hc)).Open(ctx, flags.input)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	src := source.NewTSSource(input, source.WithLogger(observability.WithComponent(logger, "source")))
	defer src.Close()

	writer, memory, closeWriter, err := buildWriter(ctx, cfg, flags, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := closeWriter(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	filter, err := motionfilter.New(writer, motionfilter.FromConfig(cfg.Motion),
		motionfilter.WithLogger(observability.WithComponent(logger, "motionfilter")),
		motionfilter.WithMetrics(metrics.ForStream(cfg.Output.Stream)),
		motionfilter.WithDecoderOptions(
			asyncmedia.WithQueueSize(cfg.Pipeline.QueueSize),
			asyncmedia.WithFeedTimeout(cfg.Pipeline.FeedTimeout),
			asyncmedia.WithCloseGracePeriod(cfg.Pipeline.CloseGracePeriod),
		),
	)
	if err != nil {
		return fmt.Errorf("creating motion filter: %w", err)
	}

	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-sigCtx.Done():
			logger.Info("shutdown requested")
			filter.Cancel()
		case <-runDone:
		}
	}()

	runErr := filter.Run(ctx, src)
	logger.Info("run finished",
		slog.Int("events", filter.EventsStarted()),
		slog.Int("frames_pushed", filter.FramesPushed()),
		slog.Duration("filtered", filter.TotalFilteredTime()))

	if memory != nil {
		for _, ev := range memory.Events() {
			logger.Info("dry run event",
				slog.String("event_id", ev.ID),
				slog.Int("frames", len(ev.Frames)),
				slog.Bool("ended", ev.Ended))
		}
	}
	if runErr != nil {
		return fmt.Errorf("motion filter: %w", runErr)
	}
	return nil
}

// buildWriter assembles the event writer chain. The returned close function
// flushes hooks and releases their connections.
func buildWriter(ctx context.Context, cfg *config.Config, flags runFlags, metrics *observability.Metrics, logger *slog.Logger) (motionfilter.EventWriter, *eventwriter.Memory, func(context.Context) error, error) {
	stream := cfg.Output.Stream

	if flags.dryRun {
		mem := eventwriter.NewMemory(stream)
		return mem, mem, func(context.Context) error { return nil }, nil
	}

	sandbox, err := storage.NewSandbox(cfg.Output.Dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing output dir: %w", err)
	}
	if n, err := sandbox.RemoveStalePending(logger, stalePendingAge); err != nil {
		logger.Warn("failed to clean pending clips", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("removed stale pending clips", slog.Int("count", n))
	}

	tsWriter, err := eventwriter.NewTSWriter(sandbox, stream,
		eventwriter.WithTSLogger(observability.WithComponent(logger, "eventwriter")))
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		hooks   []eventwriter.Hook
		closers []func(context.Context) error
	)
	fail := func(err error) (motionfilter.EventWriter, *eventwriter.Memory, func(context.Context) error, error) {
		for _, c := range closers {
			_ = c(ctx)
		}
		tsWriter.Close()
		return nil, nil, nil, err
	}

	// Upload runs first so the catalog and notifications carry the object key.
	if cfg.Minio.Enabled {
		uploadCtx, cancel := context.WithTimeout(ctx, cfg.Minio.Timeout)
		up, err := upload.Connect(uploadCtx, cfg.Minio,
			upload.WithRetainLocally(cfg.Output.RetainLocally),
			upload.WithLogger(observability.WithComponent(logger, "upload")))
		cancel()
		if err != nil {
			return fail(fmt.Errorf("connecting object storage: %w", err))
		}
		hooks = append(hooks, up)
	}

	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
		if err != nil {
			return fail(fmt.Errorf("opening event catalog: %w", err))
		}
		closers = append(closers, func(context.Context) error { return db.Close() })
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				return fail(fmt.Errorf("migrating event catalog: %w", err))
			}
		}
		repo := repository.NewMotionEventRepository(db.DB)
		if n, err := repo.CloseStale(ctx, stream, time.Now().UTC()); err != nil {
			logger.Warn("failed to close stale events", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("closed events left active by a previous run", slog.Int64("count", n))
		}
		hooks = append(hooks, catalog.NewHook(repo))
	}

	if cfg.NATS.Enabled {
		n, err := notify.Connect(cfg.NATS, observability.WithComponent(logger, "notify"))
		if err != nil {
			return fail(fmt.Errorf("connecting nats: %w", err))
		}
		closers = append(closers, n.Close)
		hooks = append(hooks, n)
	}

	hooked := eventwriter.NewHooked(tsWriter, stream, hooks,
		eventwriter.WithHookLogger(observability.WithComponent(logger, "hooks")),
		eventwriter.WithHookMetrics(metrics))

	closeAll := func(ctx context.Context) error {
		errs := []error{hooked.Close(ctx)}
		for _, c := range closers {
			errs = append(errs, c(ctx))
		}
		errs = append(errs, tsWriter.Close())
		return errors.Join(errs...)
	}
	return hooked, nil, closeAll, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}
