package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/guildwire/guildwire/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage guildwire configuration",
		Long: `Configuration management commands for guildwire.

Commands:
  init  - Interactive configuration setup
  show  - Display the effective configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for guildwire.

The configuration is saved to ~/.config/guildwire/config.yaml unless --config
is given. Use --force to overwrite an existing file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view it.")
					return nil
				}
			}

			cfg, err := promptConfig(cmd.InOrStdin(), cmd.OutOrStdout(), readToken)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.SaveConfig(cfg, path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("configuration saved")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// readToken reads the token without echo when stdin is a terminal.
func readToken(in *bufio.Reader) (string, error) {
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}
	return in.ReadString('\n')
}

// promptConfig asks for the settings a first run needs. Everything else keeps
// its default.
func promptConfig(in io.Reader, out io.Writer, tokenReader func(*bufio.Reader) (string, error)) (*config.Config, error) {
	reader := bufio.NewReader(in)
	cfg := config.NewConfig()

	fmt.Fprintln(out, "guildwire Configuration Setup")
	fmt.Fprintln(out, "=============================")

	for cfg.Token == "" {
		fmt.Fprint(out, "Token (required): ")
		input, err := tokenReader(reader)
		fmt.Fprintln(out)
		if err != nil && strings.TrimSpace(input) == "" {
			return nil, fmt.Errorf("failed to read token: %w", err)
		}
		cfg.Token = strings.TrimSpace(input)
		if cfg.Token == "" {
			fmt.Fprintln(out, "  Error: token is required")
		}
	}

	fmt.Fprintf(out, "Account type (bot/client) [%s]: ", cfg.AccountType)
	if v := readLine(reader); v != "" {
		cfg.AccountType = strings.ToLower(v)
	}

	fmt.Fprintf(out, "Gateway intents [%d]: ", cfg.Gateway.Intents)
	if v := readLine(reader); v != "" {
		intents, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid intents %q: %w", v, err)
		}
		cfg.Gateway.Intents = intents
	}

	fmt.Fprint(out, "Configure proxy? [y/N]: ")
	if v := strings.ToLower(readLine(reader)); v == "y" || v == "yes" {
		fmt.Fprint(out, "Proxy mode (system/basic/ntlm) [system]: ")
		cfg.Proxy.Mode = config.ProxySystem
		if v := readLine(reader); v != "" {
			cfg.Proxy.Mode = strings.ToLower(v)
		}
		if cfg.Proxy.Mode == config.ProxyBasic || cfg.Proxy.Mode == config.ProxyNTLM {
			fmt.Fprint(out, "Proxy host: ")
			cfg.Proxy.Host = readLine(reader)
			fmt.Fprint(out, "Proxy port [8080]: ")
			cfg.Proxy.Port = 8080
			if v := readLine(reader); v != "" {
				port, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("invalid proxy port %q: %w", v, err)
				}
				cfg.Proxy.Port = port
			}
			fmt.Fprint(out, "Proxy user (optional): ")
			cfg.Proxy.User = readLine(reader)
			if cfg.Proxy.User != "" {
				fmt.Fprint(out, "Proxy password: ")
				cfg.Proxy.Password = readLine(reader)
			}
		}
	}
	return cfg, nil
}

func readLine(r *bufio.Reader) string {
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long:  `Display the configuration after environment and flag overrides. Secrets are masked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return showConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func showConfig(out io.Writer, cfg *config.Config) error {
	masked := *cfg
	masked.Token = maskSecret(cfg.Token)
	masked.Proxy.Password = maskSecret(cfg.Proxy.Password)

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// maskSecret keeps the last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
