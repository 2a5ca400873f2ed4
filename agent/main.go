package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/tunnelforge/relay/internal/config"
	"github.com/tunnelforge/relay/internal/logging"
)

// Version is set via -ldflags "-X main.Version=..." at release build
// time, mirroring the relay binary's convention.
var Version = "dev"

func main() {
	root := &cobra.Command{Use: "tfagent", Short: "TunnelForge agent"}

	root.AddCommand(startCmd(), loginCmd(), tunnelsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Connect to the relay and serve SSH/SFTP tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgentConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.PATToken == "" {
				return fmt.Errorf("no PAT_TOKEN configured")
			}

			logger := logging.New(logging.ParseLevel(cfg.LogLevel))
			return Run(cfg, logger)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

// loginCmd stores a personal access token in the agent's config file,
// mirroring the teacher's loginCmd/saveConfig flow but against this
// project's PAT-only auth model instead of an email/password exchange.
func loginCmd() *cobra.Command {
	var token, configPath string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a personal access token for connecting to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				p, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				path = p
			}

			cfg := config.DefaultAgentConfig()
			if _, err := os.Stat(path); err == nil {
				cfg, err = config.LoadAgentConfig(path)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			cfg.PATToken = token

			if err := config.SaveAgentConfig(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("token saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "personal access token issued by the relay operator")
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file (default: XDG_CONFIG_HOME or ~/.config/tunnelforge/agent.yaml)")
	cmd.MarkFlagRequired("token")
	return cmd
}

// tunnelsCmd prints the relay's /api/connections response as-is,
// mirroring the teacher's "tunnels ls" raw JSON dump but pointed at
// this project's own endpoint rather than a separate control-plane API.
func tunnelsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tunnels",
		Short: "List tunnels currently active on the configured relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgentConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			url := fmt.Sprintf("http://%s:%d/api/connections", cfg.ServerHost, cfg.ServerPort)
			resp, err := http.Get(url)
			if err != nil {
				return fmt.Errorf("get %s: %w", url, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			fmt.Println(string(body))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}
