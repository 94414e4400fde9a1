package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/fonthenet/sihadz-sub014/internal/config"
	"github.com/fonthenet/sihadz-sub014/internal/domain/cashdrawer"
	"github.com/fonthenet/sihadz-sub014/internal/domain/chifa"
	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
	"github.com/fonthenet/sihadz-sub014/internal/platform/db"
	"github.com/fonthenet/sihadz-sub014/internal/platform/middleware"
	"github.com/fonthenet/sihadz-sub014/internal/platform/webhook"
	"github.com/fonthenet/sihadz-sub014/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pharmacy-server",
		Short: "Pharmacy settlement API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(chifaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationsFS returns the embedded migrations unless dir points elsewhere.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsFS(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply the migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// splitOutput is what `chifa split` prints.
type splitOutput struct {
	Rounding chifa.RoundingMode `json:"rounding"`
	Chronic  bool               `json:"chronic"`
	chifa.Split
}

func chifaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chifa",
		Short: "Chifa settlement tools",
	}

	splitCmd := &cobra.Command{
		Use:   "split",
		Short: "Compute the insurer and patient shares of one line",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			price, _ := flags.GetString("unit-price")
			tarif, _ := flags.GetString("tarif")
			rate, _ := flags.GetString("rate")
			qty, _ := flags.GetInt("qty")
			chronic, _ := flags.GetBool("chronic")
			local, _ := flags.GetBool("local")
			rounding, _ := flags.GetString("rounding")
			localRate, _ := flags.GetString("local-rate")

			out, err := splitLine(price, tarif, rate, qty, chronic, local, rounding, localRate)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	splitCmd.Flags().String("unit-price", "", "Unit selling price")
	splitCmd.Flags().String("tarif", "", "Reference tariff (defaults to the unit price)")
	splitCmd.Flags().String("rate", "80", "Reimbursement rate in percent")
	splitCmd.Flags().Int("qty", 1, "Quantity")
	splitCmd.Flags().Bool("chronic", false, "Chronic illness invoice (100% of the reference)")
	splitCmd.Flags().Bool("local", false, "Locally manufactured product")
	splitCmd.Flags().String("rounding", "bank", "Rounding mode: bank, half_up or truncate")
	splitCmd.Flags().String("local-rate", "", "Rate override for local products")
	_ = splitCmd.MarkFlagRequired("unit-price")

	cmd.AddCommand(splitCmd)
	return cmd
}

func splitLine(price, tarif, rate string, qty int, chronic, local bool, rounding, localRate string) (*splitOutput, error) {
	mode, err := chifa.ParseRoundingMode(rounding)
	if err != nil {
		return nil, err
	}
	policy := chifa.Policy{Rounding: mode}
	if localRate != "" {
		r, err := decimal.NewFromString(localRate)
		if err != nil {
			return nil, fmt.Errorf("--local-rate: %w", err)
		}
		policy.LocalProductRate = decimal.NewNullDecimal(r)
	}

	in := chifa.LineInput{ProductName: "cli", Quantity: qty, IsLocalProduct: local}
	if in.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("--unit-price: %w", err)
	}
	if in.ReimbursementRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("--rate: %w", err)
	}
	if tarif != "" {
		t, err := decimal.NewFromString(tarif)
		if err != nil {
			return nil, fmt.Errorf("--tarif: %w", err)
		}
		in.TarifReference = decimal.NewNullDecimal(t)
	}

	line, err := in.ToLine()
	if err != nil {
		return nil, err
	}
	s, err := policy.Split(line, chronic)
	if err != nil {
		return nil, err
	}
	return &splitOutput{Rounding: mode, Chronic: chronic, Split: s}, nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// chifaPolicy builds the split policy from configuration.
func chifaPolicy(cfg *config.Config) (chifa.Policy, error) {
	mode, err := chifa.ParseRoundingMode(cfg.ChifaRounding)
	if err != nil {
		return chifa.Policy{}, err
	}
	local, err := cfg.LocalProductRate()
	if err != nil {
		return chifa.Policy{}, err
	}
	return chifa.Policy{Rounding: mode, LocalProductRate: local}, nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.IsDev() {
		pid, err := uuid.Parse(cfg.DevPharmacyID)
		if err != nil {
			return nil, fmt.Errorf("DEV_PHARMACY_ID: %w", err)
		}
		return auth.DevAuthMiddleware(pid), nil
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jwtCfg), nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	policy, err := chifaPolicy(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid chifa policy")
	}
	authMW, err := authMiddleware(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid auth config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1", authMW, db.TenantMiddleware(pool, cfg.DefaultTenant), middleware.Audit(logger))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	tx := db.NewTxManager(pool)

	chifaSvc := chifa.NewService(
		chifa.NewInvoiceRepoPG(pool),
		chifa.NewBordereauRepoPG(pool),
		chifa.NewRejectionRepoPG(pool),
		tx, policy, logger.With().Str("component", "chifa").Logger(),
	)
	if cfg.AccountingWebhookURL != "" {
		sender, err := webhook.NewSender(cfg.AccountingWebhookURL, cfg.AccountingWebhookSecret,
			webhook.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
			webhook.WithRetryDelays(500*time.Millisecond, 2*time.Second))
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid accounting webhook")
		}
		chifaSvc.SetWriteOffPoster(chifa.NewWebhookPoster(sender, logger.With().Str("component", "writeoff").Logger()))
	}
	chifa.NewHandler(chifaSvc).RegisterRoutes(apiV1)

	drawerSvc := cashdrawer.NewService(
		cashdrawer.NewSessionRepoPG(pool),
		cashdrawer.NewSaleRepoPG(pool),
		cashdrawer.NewMovementRepoPG(pool),
		chifaSvc, tx, cfg.ReportTopN,
		logger.With().Str("component", "cashdrawer").Logger(),
	)
	cashdrawer.NewHandler(drawerSvc).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("rounding", string(policy.Rounding)).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
