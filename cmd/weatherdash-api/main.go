package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/activity"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/auth"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/config"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/database"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/logging"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/scheduler"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/server"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/userdata"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/users"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/weather"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	tokenIssuer   = "weatherdash-api"
	tokenAudience = "weatherdash"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "weatherdash-api",
		Short: "Weather dashboard backend service",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("openweather-api-key", "", "OpenWeather API key; mock data is served without one")
	cmd.PersistentFlags().Int("activity-retention-days", defaults.GetInt("activity.retention_days"), "Days to keep activity records (0 keeps forever)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "openweather.api_key", "openweather-api-key")
	bindFlag(cmd, "activity.retention_days", "activity-retention-days")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

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

	gin.SetMode(gin.ReleaseMode)

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	settingsService, err := userdata.NewService(userdata.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		IDProvider:  users.NewUUIDProvider(),
		Settings:    settingsService,
		AdminEmails: appConfig.AdminEmails,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	activityService, err := activity.NewService(activity.ServiceConfig{
		Database:   db,
		IDProvider: users.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	upstreamClient := &http.Client{Timeout: appConfig.UpstreamTimeout}
	weatherClient := weather.NewClient(weather.Config{
		APIKey:     appConfig.OpenWeatherAPIKey,
		BaseURL:    appConfig.OpenWeatherBaseURL,
		HTTPClient: upstreamClient,
		Backoff:    weather.DefaultBackoff,
		Logger:     logger,
	})
	cityService := weather.NewCityService(weather.CityConfig{
		BaseURL:    appConfig.NominatimBaseURL,
		HTTPClient: upstreamClient,
		Backoff:    weather.DefaultBackoff,
		Logger:     logger,
	})

	retention, err := scheduler.New(scheduler.Config{
		Pruner:    activityService,
		Retention: appConfig.ActivityRetention,
		Interval:  appConfig.ActivityPruneEvery,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := retention.Start(); err != nil {
		return err
	}
	defer retention.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Users:        userService,
		Settings:     settingsService,
		Activity:     activityService,
		Weather:      weatherClient,
		Cities:       cityService,
		Logger:       logger,
	})
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("weather_live", weatherClient.Live()),
		)
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
