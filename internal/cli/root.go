// Package cli provides the command-line interface for guildwire.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/core"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/version"
)

var (
	// Global flags
	cfgFile     string
	token       string
	apiBaseURL  string
	gatewayURL  string
	accountType string
	logFormat   string
	logLevel    = newLevelValue("")

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guildwire",
		Short: "guildwire - chat platform client",
		Long: `guildwire ` + version.Version + ` - Built: ` + version.BuildTime + `
Client for the chat platform's REST API and gateway.

Configuration is read from ~/.config/guildwire/config.yaml (or --config),
then GUILDWIRE_* environment variables, then command-line flags.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewLogger(logFormat, os.Stderr)
			if logLevel.set {
				logging.SetGlobalLevel(logLevel.level)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Account token (overrides config and environment)")
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api-url", "", "REST API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway-url", "", "Gateway URL (skips discovery)")
	rootCmd.PersistentFlags().StringVar(&accountType, "account-type", "", "Account type: bot or client")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatAuto, "Log format: console, json or auto")
	rootCmd.PersistentFlags().Var(logLevel, "log-level", "Log level: trace, debug, info, warn, error")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
	}
	completionCmd.AddCommand(&cobra.Command{
		Use:   "bash",
		Short: "Generate bash completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenBashCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "zsh",
		Short: "Generate zsh completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenZshCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "fish",
		Short: "Generate fish completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "powershell",
		Short: "Generate PowerShell completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenPowerShellCompletion(cmd.OutOrStdout())
		},
	})
	rootCmd.AddCommand(completionCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, shutting down...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newConnectCmd())
	rootCmd.AddCommand(newGuildsCmd())
	rootCmd.AddCommand(newRequestCmd())
	rootCmd.AddCommand(newBucketsCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	if !logLevel.set && cfg.Logging.Level != "" {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.Logging.Level))
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if token != "" {
		cfg.Token = token
	}
	if apiBaseURL != "" {
		cfg.REST.APIURL = apiBaseURL
	}
	if gatewayURL != "" {
		cfg.Gateway.URL = gatewayURL
	}
	if accountType != "" {
		cfg.AccountType = accountType
	}
}

// newEngine loads the configuration and builds an engine for it.
func newEngine() (*core.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return core.NewEngine(cfg, GetLogger())
}
