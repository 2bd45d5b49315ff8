package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/moazmaksod/LabFlow-sub000/internal/config"
	"github.com/moazmaksod/LabFlow-sub000/internal/domain/auditevent"
	"github.com/moazmaksod/LabFlow-sub000/internal/domain/catalog"
	"github.com/moazmaksod/LabFlow-sub000/internal/domain/lab"
	"github.com/moazmaksod/LabFlow-sub000/internal/domain/patient"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/auth"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/db"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/eligibility"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/metrics"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/middleware"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	eligibilitySize = 256
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "labflow-server",
		Short: "LabFlow laboratory order processing API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LabFlow API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			schema, _ := cmd.Flags().GetString("schema")
			return withMigrator(dir, schema, func(ctx context.Context, m *db.Migrator) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			schema, _ := cmd.Flags().GetString("schema")
			return withMigrator(dir, schema, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("Migration status for schema: %s\n", schema)
				printStatus(os.Stdout, statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "public", "Target schema for migrations")
		c.Flags().String("dir", "./migrations", "Path to migrations directory")
		cmd.AddCommand(c)
	}
	return cmd
}

func withMigrator(dir, schema string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, dir, schema))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	reg := metrics.NewRegistry()

	// Catalog, optionally cached in redis
	var catalogRepo catalog.Repository = catalog.NewRepoPG(pool)
	if cfg.RedisURL != "" {
		rdb, err := catalog.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		catalogRepo = catalog.NewCachedRepository(catalogRepo, rdb, cfg.CatalogCacheTTL, logger)
		logger.Info().Dur("ttl", cfg.CatalogCacheTTL).Msg("catalog cache enabled")
	}

	// Audit trail, optionally mirrored to kafka
	auditRepo := auditevent.NewRepoPG(pool)
	recorder := auditevent.NewRecorder(auditRepo, logger)
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		mirror := auditevent.NewKafkaMirror(brokers, cfg.AuditTopic)
		defer mirror.Close()
		recorder.SetMirror(mirror)
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.AuditTopic).Msg("audit mirror enabled")
	}

	queue := eligibility.NewQueue(eligibilitySize, nil, logger)
	go queue.Run(ctx)

	labSvc := lab.NewService(
		lab.NewRepoPG(pool),
		catalogRepo,
		patient.NewRepoPG(pool),
		recorder,
		db.NewTxManager(pool),
		cfg.AccessionPrefix,
	)
	labSvc.SetMetrics(reg)
	labSvc.SetEligibilityQueue(queue)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(reg))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevUserHeader, auth.DevRoleHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(reg.Handler()))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}
	apiV1 := e.Group("/api/v1", authMW)

	lab.NewHandler(labSvc).RegisterRoutes(apiV1)
	catalog.NewHandler(catalogRepo).RegisterRoutes(apiV1)
	auditevent.NewHandler(auditRepo).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	if n := queue.Pending(); n > 0 {
		logger.Warn().Int("pending", n).Msg("eligibility requests dropped at shutdown")
	}
	logger.Info().Msg("server stopped")
	return nil
}
