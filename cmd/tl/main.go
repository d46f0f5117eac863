package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/server"
	tasklinesdk "taskline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline keeps tasks in a priority index: higher priority first, earlier due date
breaking ties, undated tasks last among equals.
- serve: run the HTTP API; tasks live in that process.
- task: create, update and query tasks on a running server (--server).
- log tail: read the audit log of task mutations.
- config: show or validate taskline.yml.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "directory holding taskline.yml")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/taskline.yml)")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Taskline API address")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded on events")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func loadConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Printf("%s: ok\n", path)
			return nil
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			logger := app.NewLogger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, closeDB, err := app.OpenEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()
			handler, err := server.New(server.Config{
				Engine:         e,
				BasePath:       cfg.Server.BasePath,
				Logger:         logger,
				RateLimitRPS:   cfg.Server.RateLimit.RPS,
				RateLimitBurst: cfg.Server.RateLimit.Burst,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("serving Taskline API", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if d := server.NewWebhookDispatcher(e.Events, cfg.Webhooks, logger); d != nil {
				g.Go(func() error { return d.Run(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides server.base_path)")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := client().Events(cmd.Context(), tasklinesdk.EventsQuery{Type: evtType, EntityID: entityID, Limit: n})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
			for _, e := range events {
				payload, _ := json.Marshal(e.Payload)
				tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, string(payload)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "task id filter")
	return cmd
}

func client() *tasklinesdk.Client {
	c := tasklinesdk.New(viper.GetString("server"))
	c.ActorID = viper.GetString("actor-id")
	if cfg, err := loadConfig(); err == nil {
		c.BasePath = cfg.Server.BasePath
	}
	return c
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
