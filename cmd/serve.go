package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/google-token-relay/internal/google"
	"github.com/teemow/google-token-relay/internal/instrumentation"
	"github.com/teemow/google-token-relay/internal/logging"
	"github.com/teemow/google-token-relay/internal/relay"
	"github.com/teemow/google-token-relay/internal/server"
)

// defaultEnvFile is read at startup when present.
const defaultEnvFile = ".env"

// serveConfig holds the resolved serve settings.
type serveConfig struct {
	HTTPAddr        string
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	TokenURL        string
	UpstreamTimeout time.Duration
	Debug           bool
	LogFormat       string
	EnvFile         string
	MetricsEnabled  bool
	MetricsAddr     string
}

func newServeCmd() *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the token relay server",
		Long: `Start the HTTP server that relays OAuth token requests to Google.

Endpoints:
  POST /api/google/token    authorization code + PKCE verifier exchange
  POST /api/google/refresh  refresh token exchange
  GET  /healthz, /readyz    health probes

Credentials:
  --google-client-id and --google-client-secret flags
  OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars.
  Without them the server still starts, but every relay request
  is answered with a configuration error.

Every flag can also be set through the environment variable named in its
description. Variables from --env-file (default .env) are loaded first and
never override variables that are already set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(cmd, cfg.EnvFile); err != nil {
				return err
			}
			if err := cfg.applyEnv(cmd); err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, *cfg)
		},
	}

	cfg.bindFlags(cmd)

	return cmd
}

func (cfg *serveConfig) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP server address. Can also use HTTP_ADDR env var.")
	cmd.Flags().StringVar(&cfg.ClientID, "google-client-id", "", "Google OAuth Client ID. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&cfg.ClientSecret, "google-client-secret", "", "Google OAuth Client Secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	cmd.Flags().StringVar(&cfg.RedirectURI, "redirect-uri", google.DefaultRedirectURI, "Redirect URI sent with authorization code exchanges. Must match the URI used by the client. Can also use GOOGLE_REDIRECT_URI env var.")
	cmd.Flags().StringVar(&cfg.TokenURL, "token-url", "", "Override the Google token endpoint (testing only). Can also use GOOGLE_TOKEN_URL env var.")
	cmd.Flags().DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", 0, "Timeout for calls to the token endpoint, 0 for none. Can also use UPSTREAM_TIMEOUT env var.")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging. Can also use DEBUG env var.")
	cmd.Flags().StringVar(&cfg.LogFormat, "log-format", logging.FormatText, "Log format: text or json. Can also use LOG_FORMAT env var.")
	cmd.Flags().StringVar(&cfg.EnvFile, "env-file", defaultEnvFile, "File with KEY=value lines loaded into the environment at startup.")
	cmd.Flags().BoolVar(&cfg.MetricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
}

// loadEnvFile loads path with godotenv. A missing default file is ignored;
// a missing file that was named explicitly is an error.
func loadEnvFile(cmd *cobra.Command, path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

// applyEnv fills every setting whose flag was not set explicitly from its
// environment variable.
func (cfg *serveConfig) applyEnv(cmd *cobra.Command) error {
	stringSettings := []struct {
		flag   string
		envVar string
		target *string
	}{
		{"http-addr", "HTTP_ADDR", &cfg.HTTPAddr},
		{"google-client-id", "GOOGLE_CLIENT_ID", &cfg.ClientID},
		{"google-client-secret", "GOOGLE_CLIENT_SECRET", &cfg.ClientSecret},
		{"redirect-uri", "GOOGLE_REDIRECT_URI", &cfg.RedirectURI},
		{"token-url", "GOOGLE_TOKEN_URL", &cfg.TokenURL},
		{"log-format", "LOG_FORMAT", &cfg.LogFormat},
		{"metrics-addr", "METRICS_ADDR", &cfg.MetricsAddr},
	}
	for _, s := range stringSettings {
		if cmd.Flags().Changed(s.flag) {
			continue
		}
		if value := os.Getenv(s.envVar); value != "" {
			*s.target = value
		}
	}

	boolSettings := []struct {
		flag   string
		envVar string
		target *bool
	}{
		{"debug", "DEBUG", &cfg.Debug},
		{"metrics-enabled", "METRICS_ENABLED", &cfg.MetricsEnabled},
	}
	for _, b := range boolSettings {
		if cmd.Flags().Changed(b.flag) {
			continue
		}
		if value := os.Getenv(b.envVar); value != "" {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid %s value %q (expected true/false): %w", b.envVar, value, err)
			}
			*b.target = parsed
		}
	}

	if !cmd.Flags().Changed("upstream-timeout") {
		if value := os.Getenv("UPSTREAM_TIMEOUT"); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid UPSTREAM_TIMEOUT value %q: %w", value, err)
			}
			cfg.UpstreamTimeout = d
		}
	}

	return nil
}

func (cfg *serveConfig) validate() error {
	if err := google.ValidateRedirectURI(cfg.RedirectURI); err != nil {
		return err
	}
	if cfg.TokenURL != "" {
		if err := google.ValidateTokenURL(cfg.TokenURL); err != nil {
			return err
		}
	}
	if cfg.UpstreamTimeout < 0 {
		return fmt.Errorf("upstream timeout must not be negative, got %s", cfg.UpstreamTimeout)
	}
	if cfg.LogFormat != logging.FormatText && cfg.LogFormat != logging.FormatJSON {
		return fmt.Errorf("invalid log format %q, must be text or json", cfg.LogFormat)
	}
	return nil
}

func (cfg *serveConfig) logLevel() string {
	if cfg.Debug {
		return "debug"
	}
	return "info"
}

func runServe(ctx context.Context, cfg serveConfig) error {
	logger, err := logging.New(cfg.logLevel(), cfg.LogFormat, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	instrConfig, err := instrumentation.ConfigFromEnv(version)
	if err != nil {
		return fmt.Errorf("invalid instrumentation configuration: %w", err)
	}

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	// Start metrics server if enabled
	if cfg.MetricsEnabled && provider.ServesPrometheus() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		// Use ready channel to confirm metrics server started successfully
		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		select {
		case <-metricsReady:
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("error during metrics server shutdown", logging.Err(err))
			}
		}()
	}

	creds := relay.NewCredentials(google.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.TokenURL, cfg.RedirectURI))
	if !creds.Configured() {
		logger.Warn("GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET is not set; relay requests will fail with a configuration error")
	}
	if cfg.TokenURL != "" && cfg.TokenURL != google.TokenURL() {
		logger.Warn("using a non-default token endpoint", "token_url", cfg.TokenURL)
	}

	tokenRelay := relay.New(creds,
		relay.WithTimeout(cfg.UpstreamTimeout),
		relay.WithMetrics(provider.Metrics()),
	)

	relayServer, err := server.NewRelayHTTPServer(server.RelayServerConfig{
		Addr:    cfg.HTTPAddr,
		Relay:   tokenRelay,
		Metrics: provider.Metrics(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create relay server: %w", err)
	}

	logger.Info("starting google-token-relay",
		"version", version,
		"addr", cfg.HTTPAddr,
		"redirect_uri", creds.RedirectURI(),
		"credentials_configured", creds.Configured())

	// Not ready until the listener is bound.
	health := relayServer.Health()
	health.SetReady(false)

	serverReady := make(chan struct{})
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := relayServer.StartWithReadySignal(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-serverReady:
		health.SetReady(true)
		logger.Info("relay ready", "addr", relayServer.Addr())
	case err := <-serverDone:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := relayServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}
