package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"carelink/internal/auth"
	"carelink/internal/config"
	"carelink/internal/core"
	"carelink/internal/db"
	httpserver "carelink/internal/http"
	"carelink/internal/llm"
	"carelink/internal/lock"

	_ "github.com/lib/pq"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "carelink",
		Short:        "Doctor and patient linkage service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the document store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != "postgres" {
				logger.Info().Str("store_driver", cfg.StoreDriver).Msg("nothing to migrate")
				return nil
			}
			conn, err := openPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Msg("schema applied")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var opts core.SeedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a linked demo doctor and patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.StoreDriver == "memory" {
				logger.Warn().Msg("seeding the memory store; data is lost when this command exits")
			}
			deps, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.close()

			res, err := core.NewSeeder(deps.identity, deps.store, deps.linkage, logger).Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Printf("doctor  %s (created=%t)\npatient %s (created=%t, linked to %s)\n",
				res.DoctorUID, res.DoctorCreated, res.PatientUID, res.PatientCreated, res.LinkedDoctorUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.DoctorEmail, "doctor-email", "doctor@example.com", "Demo doctor email")
	cmd.Flags().StringVar(&opts.DoctorPassword, "doctor-password", "", "Demo doctor password")
	cmd.Flags().StringVar(&opts.InviteCode, "invite-code", "DEMO01", "Invite code owned by the demo doctor")
	cmd.Flags().StringVar(&opts.PatientEmail, "patient-email", "patient@example.com", "Demo patient email")
	cmd.Flags().StringVar(&opts.PatientPassword, "patient-password", "", "Demo patient password")
	cmd.Flags().BoolVar(&opts.ResetPasswords, "reset-passwords", false, "Overwrite passwords of existing accounts")
	cmd.Flags().BoolVar(&opts.SeedChat, "seed-chat", false, "Write a sample conversation and direct message")
	return cmd
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

// deps is everything the commands share.  closers run in reverse order.
type deps struct {
	store     db.Store
	conn      *sql.DB
	publisher core.Publisher
	hub       *db.Hub
	locks     lock.Locker
	identity  auth.Provider
	sessions  *auth.Sessions
	linkage   *core.LinkageResolver
	closers   []func() error
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{hub: db.NewHub()}

	switch cfg.StoreDriver {
	case "postgres":
		conn, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.conn = conn
		d.closers = append(d.closers, conn.Close)
		d.store = db.NewRepository(conn, cfg.StoreTimeout)
		d.publisher = db.NewNotifier(conn, cfg.NotifyChannel)
	default:
		d.store = db.NewMemoryStore()
		d.publisher = d.hub
	}

	switch cfg.LockDriver {
	case "redis":
		client := lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			d.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		d.closers = append(d.closers, client.Close)
		d.locks = lock.NewRedis(client, cfg.LockTTL)
	default:
		d.locks = lock.NewLocal()
	}

	switch cfg.AuthProvider {
	case "rest":
		d.identity = auth.NewRESTProvider(cfg.IdentityAPIURL, cfg.IdentityAPIKey, 10*time.Second)
	default:
		d.identity = auth.NewLocalProvider(d.store, cfg.Secret())
	}
	d.sessions = auth.NewSessions(cfg.Secret(), cfg.SessionTTL)
	d.linkage = core.NewLinkageResolver(d.store, logger)
	return d, nil
}

func runServer() error {
	cfg, logger, err := setup()
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise dependencies")
		return err
	}
	defer d.close()

	if d.conn != nil {
		if err := db.Migrate(ctx, d.conn); err != nil {
			logger.Error().Err(err).Msg("failed to run migrations")
			return err
		}
		listener, err := db.NewListener(cfg.DatabaseURL, cfg.NotifyChannel, d.hub, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to listen for analysis updates")
			return err
		}
		d.closers = append(d.closers, listener.Close)
		go listener.Run(ctx)
		logger.Info().Str("channel", cfg.NotifyChannel).Msg("connected to database")
	}

	chatModel := llm.NewOpenAIClient(llm.Options{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModelChat,
		Temperature: 0.7,
		Timeout:     cfg.LLMTimeout,
	})
	analysisModel := llm.NewOpenAIClient(llm.Options{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModelAnalysis,
		Temperature: 0.2,
		Timeout:     cfg.LLMTimeout,
	})

	chat := core.NewChatService(chatModel, d.store, d.locks, logger)
	srv := httpserver.NewServer(httpserver.Services{
		Accounts: core.NewAccountService(d.identity, d.store, d.linkage, d.sessions, logger),
		Access:   core.NewAccessGateway(d.linkage),
		Linkage:  d.linkage,
		Chat:     chat,
		Threads:  core.NewThreadService(d.store, d.linkage, logger),
		Analysis: core.NewSynthesizer(analysisModel, d.store, chat, d.linkage, d.publisher, logger),
		Updates:  d.hub,
	}, logger, d.sessions.TTL(), !cfg.IsDev())
	e := srv.Echo()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).
			Str("store", cfg.StoreDriver).Str("locks", cfg.LockDriver).Str("identity", cfg.AuthProvider).
			Str("chat_model", chatModel.Model()).Str("analysis_model", analysisModel.Model()).
			Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
