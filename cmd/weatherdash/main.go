package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/client"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/config"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/localstore"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/logging"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/preferences"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const settlePollInterval = 20 * time.Millisecond

var (
	cfgFile string

	errNotSettled = errors.New("settings did not finish loading")
)

// app holds the collaborators shared by every subcommand.
type app struct {
	out     io.Writer
	logger  *zap.Logger
	local   *localstore.Store
	api     *client.Client
	store   *preferences.Store
	timeout time.Duration
}

func main() {
	state := &app{out: os.Stdout}
	rootCmd := &cobra.Command{
		Use:           "weatherdash",
		Short:         "Weather dashboard command line client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return err
			}
			return state.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			state.close()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newSettingsCommand(state),
		newFavoritesCommand(state),
		newSearchesCommand(state),
		newLanguageCommand(state),
		newResetCommand(state),
		newLoginCommand(state),
		newRegisterCommand(state),
		newLogoutCommand(state),
		newWhoAmICommand(state),
		newWeatherCommand(state),
		newCitiesCommand(state),
		newAdminCommand(state),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		state.close()
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-url", defaults.GetString("api.base_url"), "Backend base URL")
	cmd.PersistentFlags().String("local-path", defaults.GetString("local.path"), "Local settings database path")
	cmd.PersistentFlags().Duration("remote-timeout", defaults.GetDuration("remote.timeout"), "Timeout for each backend call")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	bindFlag(cmd, "api.base_url", "api-url")
	bindFlag(cmd, "local.path", "local-path")
	bindFlag(cmd, "remote.timeout", "remote-timeout")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

// open wires local persistence, the backend client and the settings store,
// resumes any stored session and waits for the first identity resolution.
func (a *app) open(ctx context.Context) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}
	a.timeout = clientConfig.RemoteTimeout

	a.logger, err = logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}

	a.local, err = localstore.Open(localstore.Config{Path: clientConfig.LocalPath, Logger: a.logger})
	if err != nil {
		return err
	}

	a.api, err = client.New(client.Config{
		BaseURL: clientConfig.APIBaseURL,
		Local:   a.local,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}

	restoreCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if _, err := a.api.Restore(restoreCtx); err != nil {
		a.logger.Warn("session restore failed; continuing signed out", zap.Error(err))
	}

	a.store, err = preferences.NewStore(preferences.Config{
		Local:         a.local,
		Remote:        a.api,
		Identities:    a.api,
		Logger:        a.logger,
		RemoteTimeout: a.timeout,
		ClientContext: fmt.Sprintf("weatherdash-cli (%s/%s)", runtime.GOOS, runtime.GOARCH),
	})
	if err != nil {
		return err
	}
	if err := a.store.ObserveIdentity(ctx); err != nil {
		return err
	}
	return a.waitFor(ctx, func() bool {
		return a.store.Initialized() && !a.store.Loading()
	})
}

// waitFor polls ready until it holds, giving the identity observer time to
// finish remote reads.
func (a *app) waitFor(ctx context.Context, ready func() bool) error {
	deadline := time.NewTimer(2*a.timeout + time.Second)
	defer deadline.Stop()
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()
	for !ready() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errNotSettled
		case <-ticker.C:
		}
	}
	return nil
}

// waitForIdentity blocks until the store is bound to uid, or signed out when
// uid is empty.
func (a *app) waitForIdentity(ctx context.Context, uid string) error {
	return a.waitFor(ctx, func() bool {
		if a.store.Loading() {
			return false
		}
		identity := a.store.Identity()
		if uid == "" {
			return identity == nil
		}
		return identity != nil && identity.UID == uid
	})
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.local != nil {
		if err := a.local.Close(); err != nil && a.logger != nil {
			a.logger.Warn("failed to close local store", zap.Error(err))
		}
		a.local = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
