// Command gatewayd runs the online inference gateway: loads a model
// artifact, wires the intake queue and batch assembler around it, and
// serves /health, /predict, and /metrics over HTTP until signalled to
// shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/YheChen/MLInference/internal/assembler"
	"github.com/YheChen/MLInference/internal/audit"
	"github.com/YheChen/MLInference/internal/cache"
	"github.com/YheChen/MLInference/internal/config"
	"github.com/YheChen/MLInference/internal/httpapi"
	"github.com/YheChen/MLInference/internal/logging"
	"github.com/YheChen/MLInference/internal/metrics"
	"github.com/YheChen/MLInference/internal/predictor"
	"github.com/YheChen/MLInference/internal/queue"
)

const version = "v0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "gatewayd",
		Short:   "Online inference gateway",
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to an optional YAML config file")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("gatewayd: fatal")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(cfg.LogLevel, isTTY())

	steps := logging.NewStepLogger([]string{"load_model", "warm_pipeline", "bind_listener"})

	steps.StartStep("load_model")
	model, err := predictor.LoadLogisticModel(cfg.ModelPath)
	if err != nil {
		steps.Fail(err)
		return fmt.Errorf("load model: %w", err)
	}
	steps.CompleteStep()

	reg := metrics.New()

	basePredictor := predictor.New(model)
	breakerPredictor := predictor.NewBreakerPredictor(basePredictor, predictor.DefaultBreakerConfig())

	var pipelinePredictor interface {
		Predict(batch []queue.FeatureVector) ([]float64, error)
	} = breakerPredictor

	var scoreCache *cache.ScoreCache
	if cfg.CacheDSN != "" {
		scoreCache = cache.New(cfg.CacheDSN, 30*time.Second)
		pipelinePredictor = predictor.NewCachingPredictor(pipelinePredictor, scoreCache, 20*time.Millisecond)
		log.Info().Str("addr", cfg.CacheDSN).Msg("gatewayd: score cache enabled")
	}

	pool := predictor.NewWorkerPool(cfg.PredictorWorkers)

	steps.StartStep("warm_pipeline")
	q := queue.New(cfg.QueueMaxSize)
	asm := assembler.New(q, pipelinePredictor, pool, reg, assembler.Config{
		MaxSize: cfg.BatchMaxSize,
		Window:  cfg.BatchWindow,
	})
	steps.CompleteStep()

	var auditWriter *audit.Writer
	if cfg.AuditDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		auditWriter, err = audit.Open(ctx, cfg.AuditDSN, 1024)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("gatewayd: audit trail disabled, could not connect")
		} else {
			log.Info().Msg("gatewayd: audit trail enabled")
		}
	}

	sampler, err := metrics.NewSampler(reg, 15*time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("gatewayd: process sampler unavailable")
	}

	steps.StartStep("bind_listener")
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Addr = cfg.ListenAddr
	httpCfg.RequestTimeout = cfg.RequestTimeout
	httpCfg.QueueHighWatermark = cfg.QueueHighWatermark
	httpCfg.AdmissionRatePerSec = cfg.AdmissionRatePerSec
	httpCfg.AdmissionBurst = cfg.AdmissionBurst

	server, err := httpapi.NewServer(httpCfg, q, reg, auditWriter)
	if err != nil {
		steps.Fail(err)
		return fmt.Errorf("new server: %w", err)
	}
	steps.CompleteStep()
	steps.Finish()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { asm.Run(groupCtx); return nil })
	if sampler != nil {
		group.Go(func() error { sampler.Run(groupCtx); return nil })
	}

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.WatchFile(configPath, func(next config.Config) {
			server.SetAdmissionRate(next.AdmissionRatePerSec, next.AdmissionBurst)
			log.Info().
				Float64("admission_rate_per_sec", next.AdmissionRatePerSec).
				Int("admission_burst", next.AdmissionBurst).
				Msg("gatewayd: admission shaping retuned from config reload")
		})
		if err != nil {
			log.Warn().Err(err).Msg("gatewayd: config hot-reload disabled")
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("gatewayd: shutdown signal received")
	case err := <-serverErr:
		cancelRun()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gatewayd: http shutdown error")
	}

	cancelRun() // unblocks the assembler's Take and drains the queue
	asm.Stop()
	_ = group.Wait() // waits for the assembler's drain and the sampler to exit

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			log.Warn().Err(err).Msg("gatewayd: config watcher close error")
		}
	}

	if auditWriter != nil {
		if err := auditWriter.Close(); err != nil {
			log.Warn().Err(err).Msg("gatewayd: audit writer close error")
		}
	}
	if scoreCache != nil {
		if err := scoreCache.Close(); err != nil {
			log.Warn().Err(err).Msg("gatewayd: score cache close error")
		}
	}

	log.Info().Msg("gatewayd: shutdown complete")
	return nil
}

func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
