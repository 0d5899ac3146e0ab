// Package cmd initializes the CLI, the config parser and the logger.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"

	"fanlink-client/internal/api"
	"fanlink-client/internal/channel"
	"fanlink-client/internal/gate"
	"fanlink-client/internal/models"
	"fanlink-client/internal/session"
	"fanlink-client/internal/store"
)

var cfgFile string

// Execute adds all child commands to the root command and runs it. It
// is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "fanlink",
	Short:        "Command line client for the FanLink creator platform",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.fanlink.yaml)")
	pf.String("api-url", "http://localhost:8083", "base URL of the platform API")
	pf.String("ws-url", "", "base URL for the push connection (derived from api-url when empty)")
	pf.String("token", "", "bearer token of a logged-in account")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("otel-endpoint", "", "OTLP gRPC endpoint for trace export, empty disables it")
	if err := viper.BindPFlags(pf); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".fanlink")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("FANLINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// consoleNotifier surfaces transient notifications on stderr, standing
// in for the toast popups of the web client.
type consoleNotifier struct{}

func (consoleNotifier) Notify(level, text string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level, text)
}

// app bundles the wired client components for a command invocation.
type app struct {
	log   *slog.Logger
	sess  *session.Session
	api   api.Client
	gate  *gate.Gate
	store *store.Store

	shutdown func(context.Context) error
}

// newApp wires session, api client, gate and store from the resolved
// config. When a token is configured the identity is restored from the
// backend so commands start logged in.
func newApp(ctx context.Context) (*app, error) {
	log := newLogger()

	shutdown, err := setupTracing(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	sess := session.New(consoleNotifier{}, log)
	client := api.NewHTTP(viper.GetString("api-url"), sess, log)
	g := gate.New(client, sess, log)
	st := store.New(client, g, sess, log)

	if token := viper.GetString("token"); token != "" {
		sess.SetIdentity(models.Identity{}, token)
		id, err := client.Me(ctx)
		if err != nil {
			sess.Clear()
			return nil, fmt.Errorf("token rejected: %w", err)
		}
		sess.SetIdentity(id, token)
	}

	return &app{log: log, sess: sess, api: client, gate: g, store: st, shutdown: shutdown}, nil
}

// newChannel builds the push connection against the configured
// websocket base URL.
func (a *app) newChannel() *channel.Channel {
	wsURL := viper.GetString("ws-url")
	if wsURL == "" {
		wsURL = viper.GetString("api-url")
		wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
		wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	}
	return channel.New(wsURL, a.sess, a.log)
}

func (a *app) close() {
	if a.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("trace exporter shutdown failed", "error", err)
	}
}

// setupTracing installs an OTLP trace exporter when an endpoint is
// configured. Without one the default no-op provider stays in place.
func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	endpoint := viper.GetString("otel-endpoint")
	if endpoint == "" {
		return nil, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("fanlink-client")),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// mustLogin aborts commands that need an authenticated session.
func (a *app) mustLogin() (models.Identity, error) {
	id, ok := a.sess.Identity()
	if !ok {
		return models.Identity{}, fmt.Errorf("not logged in: pass --token or run 'fanlink login'")
	}
	return id, nil
}
