package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cafecursor/cafecursor/internal/auth"
	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/cafecursor/cafecursor/internal/changefeed"
	"github.com/cafecursor/cafecursor/internal/config"
	"github.com/cafecursor/cafecursor/internal/database"
	"github.com/cafecursor/cafecursor/internal/logging"
	"github.com/cafecursor/cafecursor/internal/server"
	"github.com/cafecursor/cafecursor/internal/storage"
	"github.com/cafecursor/cafecursor/internal/users"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const sessionTTL = 24 * time.Hour

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cafecursor-api",
		Short: "Cafe Cursor backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-endpoint", "", "S3-compatible endpoint for card images")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for sharing changes between instances")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "redis.address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
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

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	feedMetrics, err := changefeed.NewMetrics(registry)
	if err != nil {
		return err
	}
	httpMetrics, err := server.NewHTTPMetrics(registry)
	if err != nil {
		return err
	}

	dispatcher := changefeed.NewDispatcher(changefeed.DispatcherConfig{Metrics: feedMetrics})
	var publisher cards.Publisher = dispatcher
	if appConfig.Redis.Enabled() {
		redisClient := changefeed.NewRedisClient(appConfig.Redis.Address, appConfig.Redis.Password, appConfig.Redis.DB)
		defer redisClient.Close()
		relay, err := changefeed.NewRedisRelay(changefeed.RelayConfig{
			Client:     redisClient,
			Channel:    appConfig.Redis.Channel,
			Dispatcher: dispatcher,
			Metrics:    feedMetrics,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := relay.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("change relay stopped", zap.Error(err))
			}
		}()
		publisher = relay
		logger.Info("change relay enabled", zap.String("channel", appConfig.Redis.Channel))
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	cardsService, err := cards.NewService(cards.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		IDProvider:   cards.NewUUIDProvider(),
		SlugSuffixes: cards.NewRandomSuffixProvider(),
		Publisher:    publisher,
		Names:        usersService,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	var images server.ImageUploader
	if appConfig.Storage.Enabled() {
		store, err := storage.NewMinIOStore(signalCtx, appConfig.Storage)
		if err != nil {
			return err
		}
		uploader, err := storage.NewUploader(storage.NewImageProcessor(), store, logger)
		if err != nil {
			return err
		}
		images = uploader
	} else {
		logger.Warn("storage endpoint not configured; image uploads disabled")
	}

	var identities server.IdentityVerifier
	var tokens server.SessionIssuer
	if appConfig.Google.Enabled() {
		verifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
			Provider: auth.ProviderGoogle,
			Audience: appConfig.Google.ClientID,
			JWKSURL:  appConfig.Google.JWKSURL,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SigningSecret: []byte(appConfig.SessionSigningSecret),
			Issuer:        appConfig.SessionIssuer,
			TokenTTL:      sessionTTL,
		})
		if err != nil {
			return err
		}
		identities = verifier
		tokens = issuer
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Users:          usersService,
		CardsService:   cardsService,
		Changes:        dispatcher,
		Images:         images,
		Identities:     identities,
		Tokens:         tokens,
		SessionCookie:  appConfig.SessionCookieName,
		AllowedOrigins: appConfig.AllowedOrigins,
		Metrics:        httpMetrics,
		Logger:         logger,
		PageSize:       appConfig.FeedPageSize,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
