// Command atlas runs the agent runtime: a WebSocket streaming server that
// drives an LLM through ReAct task execution inside per-session sandboxes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atlas/internal/config"
	"atlas/internal/llm"
	"atlas/internal/logging"
	"atlas/internal/sandbox"
	"atlas/internal/server"
	"atlas/internal/session"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "atlas",
		Short: "Autonomous agent runtime",
		Long:  "atlas drives an LLM through a ReAct loop with sandboxed tools, session persistence and a streaming WebSocket API.",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./atlas.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig locates the config file (explicit flag, else the usual search
// paths) and layers CLI flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgFile
	if path == "" {
		v := viper.New()
		v.SetConfigName("atlas")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.atlas")
		}
		if err := v.ReadInConfig(); err == nil {
			path = v.ConfigFileUsed()
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Server.Port = port
	}
	if f := cmd.Flags().Lookup("model"); f != nil && f.Changed {
		model, _ := cmd.Flags().GetString("model")
		cfg.LLM.Model = model
	}
	if verbose {
		cfg.Server.Debug = true
		logging.SetLevel(logging.DEBUG)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewComponentLogger("Server")

			docker := sandbox.NewCLIClient()
			manager, err := session.NewManager(cfg, docker, logger)
			if err != nil {
				return err
			}

			client := llm.NewOpenAIClient(cfg.LLM.Model, llm.Config{
				BaseURL: cfg.LLM.BaseURL,
				APIKey:  cfg.LLM.APIKey,
				Timeout: cfg.Agent.LLMCallTimeout,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(cfg, manager, client, logger).Start(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "listen port (overrides config)")
	cmd.Flags().String("model", "", "model identifier (overrides config)")
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewComponentLogger("CLI")
			manager, err := session.NewManager(cfg, sandbox.NewCLIClient(), logger)
			if err != nil {
				return err
			}
			ids, err := manager.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("atlas " + version)
		},
	}
}

var version = "dev"
