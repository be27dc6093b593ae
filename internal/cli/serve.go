package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sir_venger/drive_lite/internal/app/resthttp"
	"github.com/sir_venger/drive_lite/internal/config"
	"github.com/sir_venger/drive_lite/internal/logging"
	"github.com/sir_venger/drive_lite/internal/repo"
	"github.com/sir_venger/drive_lite/internal/usecase/archivesvc"
	"github.com/sir_venger/drive_lite/internal/usecase/fetchsvc"
	"github.com/sir_venger/drive_lite/internal/usecase/uploadsvc"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	reg, err := repo.Open(ctx, cfg.MetaDSN, repo.FromConfig(cfg.Storages))
	if err != nil {
		return err
	}
	defer reg.Close()

	uploads, err := uploadsvc.New(uploadsvc.Deps{
		Registry:     reg,
		Log:          logging.Component("upload"),
		TempDir:      cfg.Upload.TempDir,
		ChunkSize:    cfg.Upload.ChunkSize,
		MinChunkSize: cfg.Upload.MinChunkSize,
		MaxChunkSize: cfg.Upload.MaxChunkSize,
		MaxFileSize:  cfg.Upload.MaxFileSize,
	})
	if err != nil {
		return err
	}

	httpSrc := fetchsvc.NewHTTPSource(fetchsvc.HTTPConfig{
		Timeout:   cfg.Remote.Timeout,
		KATimeout: cfg.Remote.KeepAliveTimeout,
		ProxyURL:  cfg.Remote.ProxyURL,
		UserAgent: cfg.Remote.UserAgent,
	})
	fetcher, err := fetchsvc.New(fetchsvc.Deps{
		Registry: reg,
		Log:      logging.Component("fetch"),
		Sources: map[string]fetchsvc.Source{
			"http":  httpSrc,
			"https": httpSrc,
			"s3": fetchsvc.NewS3Source(fetchsvc.S3Config{
				Profile:   cfg.Remote.S3Profile,
				Region:    cfg.Remote.S3Region,
				Endpoint:  cfg.Remote.S3Endpoint,
				PathStyle: cfg.Remote.S3PathStyle,
			}),
		},
		ProgressBytes:    cfg.Remote.ProgressBytes,
		ProgressInterval: cfg.Remote.ProgressInterval,
		MaxConcurrent:    cfg.Remote.MaxConcurrent,
	})
	if err != nil {
		return err
	}
	defer fetcher.Close()

	archives, err := archivesvc.New(archivesvc.Deps{
		Registry: reg,
		Log:      logging.Component("archive"),
		Workers:  cfg.Archive.Workers,
	})
	if err != nil {
		return err
	}

	handler, _ := resthttp.NewServer(resthttp.Deps{
		Uploads:    uploads,
		Remote:     fetcher,
		Archives:   archives,
		Auth:       resthttp.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Log:        logging.Component("http"),
		Cfg:        cfg,
		SessionTTL: cfg.Upload.SessionTTL,
	})
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopSweeper := uploads.StartSweeper(cfg.Upload.SessionTTL, cfg.Upload.SweepInterval)
	defer stopSweeper()

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("jwt_secret is empty, API is open to anonymous callers")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Int("storages", len(cfg.Storages)).Msg("drive listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	// Сценарий graceful shutdown при получении SIGTERM/SIGINT.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("shutdown")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("drive stopped")
	return err
}
