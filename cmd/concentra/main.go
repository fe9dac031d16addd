package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/concentra-hq/concentra/internal/config"
	httpserver "github.com/concentra-hq/concentra/internal/interfaces/http"
	"github.com/concentra-hq/concentra/internal/llm"
	"github.com/concentra-hq/concentra/internal/pipeline"
	"github.com/concentra-hq/concentra/internal/registry"
)

const (
	appName = "concentra"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Concentration analysis service for tabular financial data",
		Version: version,
		Long: `Concentra ingests spreadsheets and CSV files, normalizes them into a
typed columnar store, and computes ranked concentration distributions per
period and overall, with CSV/XLSX exports and optional advisory enrichment.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "", "Bind host (overrides HTTP_HOST)")
	serveCmd.Flags().Int("port", 0, "Bind port (overrides HTTP_PORT)")
	serveCmd.Flags().String("datasets", "", "Datasets root directory (overrides DATASETS_PATH)")
	serveCmd.Flags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if datasets, _ := cmd.Flags().GetString("datasets"); datasets != "" {
		cfg.DatasetsPath = datasets
	}

	reg, err := registry.New(cfg.DatasetsPath)
	if err != nil {
		return err
	}

	advisor := llm.New(llm.Config{
		Enabled:            cfg.UseLLM,
		Provider:           cfg.LLMProvider,
		Model:              cfg.LLMModel,
		APIKey:             providerKey(cfg),
		Timeout:            cfg.LLMTimeout,
		MaxCallsPerDataset: cfg.LLMMaxCallsPerDataset,
		Temperature:        cfg.LLMTemperature,
		MaxTokens:          cfg.LLMMaxTokens,
	})

	ctrl := pipeline.New(cfg, reg, advisor)
	server, err := httpserver.NewServer(cfg, ctrl)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// providerKey selects the credential matching the configured provider.
func providerKey(cfg config.Config) string {
	switch cfg.LLMProvider {
	case "anthropic":
		return cfg.AnthropicAPIKey
	default:
		return cfg.OpenAIAPIKey
	}
}
