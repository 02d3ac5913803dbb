package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/admins"
	"github.com/MarcoPoloResearchLab/jury/internal/auth"
	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/config"
	"github.com/MarcoPoloResearchLab/jury/internal/database"
	"github.com/MarcoPoloResearchLab/jury/internal/export"
	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/judges"
	"github.com/MarcoPoloResearchLab/jury/internal/logging"
	"github.com/MarcoPoloResearchLab/jury/internal/notes"
	"github.com/MarcoPoloResearchLab/jury/internal/progress"
	"github.com/MarcoPoloResearchLab/jury/internal/scoring"
	"github.com/MarcoPoloResearchLab/jury/internal/server"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionAudience = "jury-api"
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jury-api",
		Short: "Jury judging coordination service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional dotenv file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Server database DSN")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Judge session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-signing-secret", "", "Judge session signing secret (overrides env)")
	cmd.PersistentFlags().String("admin-signing-secret", "", "Administrator session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "session-signing-secret")
	bindFlag(cmd, "admin.signing_secret", "admin-signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	handler, err := buildHandler(db, appConfig, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildHandler(db *gorm.DB, appConfig config.AppConfig, logger *zap.Logger) (http.Handler, error) {
	idProvider := ids.NewUUIDProvider()

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		Audience:      sessionAudience,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return nil, err
	}

	judgeService, err := judges.NewService(judges.ServiceConfig{
		Database:          db,
		Groups:            catalogService,
		Tokens:            tokenIssuer,
		IDProvider:        idProvider,
		Clock:             time.Now,
		HeartbeatInterval: appConfig.HeartbeatMinInterval,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	scoreService, err := scoring.NewService(scoring.ServiceConfig{
		Database: db,
		Catalog:  catalogService,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	statusService, err := status.NewService(status.ServiceConfig{
		Database:   db,
		Catalog:    catalogService,
		Scores:     scoreService,
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	aggregator, err := progress.NewAggregator(progress.Config{
		Statuses: statusService,
		Criteria: catalogService,
		Scores:   scoreService,
	})
	if err != nil {
		return nil, err
	}

	noteService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Catalog:    catalogService,
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	exporter, err := export.NewExporter(export.ExporterConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	adminValidator, err := auth.NewAdminValidator(auth.AdminValidatorConfig{
		SigningSecret: []byte(appConfig.AdminSigningSecret),
		Issuer:        appConfig.AdminIssuer,
		CookieName:    appConfig.AdminCookieName,
		RequiredRole:  appConfig.AdminRequiredRole,
	})
	if err != nil {
		return nil, err
	}

	adminDirectory, err := admins.NewService(admins.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return server.NewHTTPHandler(server.Dependencies{
		Judges:         judgeService,
		Catalog:        catalogService,
		Scores:         scoreService,
		Statuses:       statusService,
		Progress:       aggregator,
		Notes:          noteService,
		Exporter:       exporter,
		Admin:          adminValidator,
		Admins:         adminDirectory,
		Realtime:       server.NewRealtimeDispatcher(),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
}
