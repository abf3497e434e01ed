// Package main is the entry point of the AI consultant service: an HTTP API
// that turns a product idea into a multi-section AI agent report.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ai_consultant/config"
)

var (
	configFile string
	envFile    string
	outFile    string
	version    = "0.1.0" // overridden at build time
)

var rootCmd = &cobra.Command{
	Use:   "consultant",
	Short: "AI agent consultant API",
	Long: `consultant runs the requirements conversation, report generation,
refinement and lead capture funnel behind an HTTP/JSON API.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var reportCmd = &cobra.Command{
	Use:   "report <session_id>",
	Short: "Export a finished report as HTML",
	Long:  `Render the stored report of a session to stdout or to --out.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "consultant v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "path to a YAML config file")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("addr", "", "HTTP listen address [default: :8000]")
	flags.String("log-level", "", "log level (debug|info|warn|error) [default: info]")
	flags.Bool("log-pretty", false, "human readable console logs")
	flags.String("store", "", "session store (memory|sqlite|mongo) [default: memory]")
	flags.String("llm-provider", "", "model provider (openai|groq|deepseek|anthropic|gemini|mock) [default: openai]")

	bindings := map[string]string{
		"server.addr":  "addr",
		"log.level":    "log-level",
		"log.pretty":   "log-pretty",
		"store.driver": "store",
		"llm.provider": "llm-provider",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", flag, err)
			os.Exit(1)
		}
	}

	reportCmd.Flags().StringVarP(&outFile, "out", "o", "", "write the report to this file instead of stdout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer a.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.LogServerStart(cfg.Server.Addr, cfg.Store.Driver, cfg.LLM.Provider)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.log.LogServerShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Jobs.Timeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http shutdown").Err(err).Send()
	}
	return a.server.Shutdown(shutdownCtx)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, version)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.service.ExportReport(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("export report %s: %w", args[0], err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(doc); err != nil {
		return err
	}
	if outFile != "" {
		a.log.Info("report written").Str("session_id", args[0]).Str("path", outFile).Send()
	}
	return nil
}

