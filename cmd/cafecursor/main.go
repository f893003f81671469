package main

import (
	"errors"
	"os"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/config"
	"github.com/cafecursor/cafecursor/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "cafecursor",
		Short:         "Cafe Cursor command line client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newWatchCommand(), newLikeCommand(), newSaveCommand(), newNotificationsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-url", defaults.GetString("client.api_url"), "Cafe Cursor API base URL")
	cmd.PersistentFlags().String("token", "", "Session token (overrides env)")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	bindFlag(cmd, "client.api_url", "api-url")
	bindFlag(cmd, "client.token", "token")
	bindFlag(cmd, "log.level", "log-level")
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

// clientEnv is what every subcommand needs: validated config, a logger and an API client.
type clientEnv struct {
	config config.ClientConfig
	logger *zap.Logger
	client *api.Client
}

func newClientEnv() (clientEnv, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return clientEnv{}, err
	}
	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return clientEnv{}, err
	}
	client, err := api.NewClient(api.ClientConfig{
		BaseURL: clientConfig.APIURL,
		Token:   clientConfig.AccessToken,
	})
	if err != nil {
		return clientEnv{}, err
	}
	return clientEnv{config: clientConfig, logger: logger, client: client}, nil
}
