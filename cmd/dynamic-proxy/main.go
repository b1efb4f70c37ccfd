package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	dynamicproxy "github.com/rathix/dynamic-proxy"
	appconfig "github.com/rathix/dynamic-proxy/internal/config"
	"github.com/rathix/dynamic-proxy/internal/health"
	"github.com/rathix/dynamic-proxy/internal/history"
	"github.com/rathix/dynamic-proxy/internal/metrics"
	"github.com/rathix/dynamic-proxy/internal/retarget"
	"github.com/rathix/dynamic-proxy/internal/routes"
	"github.com/rathix/dynamic-proxy/internal/server"
	"github.com/rathix/dynamic-proxy/internal/sse"
	"github.com/rathix/dynamic-proxy/internal/websocket"
)

const defaultAddr = ":5173"

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// config holds all server configuration.
type config struct {
	ListenAddr    string
	ConfigFile    string
	DefaultTarget string
	Paths         []string
	ChangeOrigin  *bool
	Frontend      string
	StaticDir     string
	BasePath      string
	LogFormat     string
	LogLevel      string

	HealthInterval time.Duration
	HistoryFile    string

	// explicit records settings given by flag or environment; those win
	// over the config file.
	explicit map[string]bool
}

func main() {
	// Quick check for version flag before full config loading
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("dynamic-proxy version %s\n", Version)
			return
		}
	}

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses flags and environment variables with precedence: Flag > Env > Default.
// The config file, when given, fills in whatever neither set.
func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("dynamic-proxy", flag.ContinueOnError)

	cfg := config{explicit: make(map[string]bool)}
	var paths string
	var changeOrigin bool
	fs.Bool("version", false, "print version and exit")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", defaultAddr), "listen address")
	fs.StringVar(&cfg.ConfigFile, "config", getEnv("CONFIG_FILE", ""), "path to YAML config file (hot-reloaded)")
	fs.StringVar(&cfg.DefaultTarget, "default-target", getEnv("DEFAULT_TARGET", ""), "default backend origin for proxied paths")
	fs.StringVar(&paths, "path", getEnv("PROXY_PATHS", ""), "comma separated path prefixes or ^patterns to proxy")
	fs.BoolVar(&changeOrigin, "change-origin", getEnvBool("CHANGE_ORIGIN", true), "rewrite the Host header to the target host")
	fs.StringVar(&cfg.Frontend, "frontend", getEnv("FRONTEND_URL", ""), "frontend dev server receiving unmatched requests")
	fs.StringVar(&cfg.StaticDir, "static-dir", getEnv("STATIC_DIR", ""), "directory served for unmatched requests")
	fs.StringVar(&cfg.BasePath, "base-path", getEnv("BASE_PATH", "/"), "path prefix the dev server is mounted under")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (json or text)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.HistoryFile, "history-file", getEnv("HISTORY_FILE", ""), "append retargets and health transitions to this JSONL file")
	fs.DurationVar(&cfg.HealthInterval, "health-interval", getEnvDuration("HEALTH_INTERVAL", 10*time.Second), "interval between target probes (0 disables)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	envKeys := map[string]string{
		"listen-addr":    "LISTEN_ADDR",
		"default-target": "DEFAULT_TARGET",
		"path":           "PROXY_PATHS",
		"change-origin":  "CHANGE_ORIGIN",
		"frontend":       "FRONTEND_URL",
		"static-dir":     "STATIC_DIR",
		"base-path":      "BASE_PATH",
	}
	for name, key := range envKeys {
		if _, ok := os.LookupEnv(key); ok {
			cfg.explicit[name] = true
		}
	}
	fs.Visit(func(f *flag.Flag) {
		cfg.explicit[f.Name] = true
	})

	cfg.Paths = splitPaths(paths)
	if cfg.explicit["change-origin"] {
		cfg.ChangeOrigin = &changeOrigin
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return config{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", cfg.LogFormat)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return config{}, err
	}
	if cfg.HealthInterval < 0 {
		return config{}, fmt.Errorf("--health-interval must not be negative, got %s", cfg.HealthInterval)
	}
	if cfg.Frontend != "" && cfg.StaticDir != "" {
		return config{}, errors.New("--frontend and --static-dir are mutually exclusive")
	}

	return cfg, nil
}

// withFile returns cfg completed from the config file. Flag and environment
// settings are kept.
func (c config) withFile(file *appconfig.Config) config {
	if file == nil {
		return c
	}
	out := c
	opts := file.Options()
	if !c.explicit["default-target"] && opts.DefaultTarget != "" {
		out.DefaultTarget = opts.DefaultTarget
	}
	if !c.explicit["path"] && len(opts.Paths) > 0 {
		out.Paths = opts.Paths
	}
	if !c.explicit["change-origin"] && opts.ChangeOrigin != nil {
		v := *opts.ChangeOrigin
		out.ChangeOrigin = &v
	}
	if !c.explicit["listen-addr"] && file.Server.ListenAddr != "" {
		out.ListenAddr = file.Server.ListenAddr
	}
	if !c.explicit["base-path"] && file.Server.BasePath != "" {
		out.BasePath = file.Server.BasePath
	}
	if !c.explicit["frontend"] && !c.explicit["static-dir"] {
		if file.Server.Frontend != "" {
			out.Frontend = file.Server.Frontend
		}
		if file.Server.StaticDir != "" {
			out.StaticDir = file.Server.StaticDir
		}
	}
	return out
}

func (c config) options() routes.Options {
	return routes.Options{
		DefaultTarget: c.DefaultTarget,
		Paths:         c.Paths,
		ChangeOrigin:  c.ChangeOrigin,
	}
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fallback
		}
		return d
	}
	return fallback
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unsupported log level %q", s)
	}
	return level, nil
}

func setupLogger(format, level string) *slog.Logger {
	return setupLoggerWithWriter(format, level, os.Stdout)
}

func setupLoggerWithWriter(format, level string, writer io.Writer) *slog.Logger {
	lvl, err := parseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler)
}

// newFallback picks what serves requests no route matches.
func newFallback(cfg config) (http.Handler, error) {
	switch {
	case cfg.Frontend != "":
		h, err := server.NewDevProxyHandler(cfg.Frontend)
		if err != nil {
			return nil, fmt.Errorf("failed to create frontend proxy: %w", err)
		}
		return h, nil
	case cfg.StaticDir != "":
		h, err := server.NewStaticHandler(cfg.StaticDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create static handler: %w", err)
		}
		return h, nil
	default:
		return nil, nil
	}
}

// run starts the server and handles graceful shutdown.
func run(ctx context.Context, flags config) error {
	logger := setupLogger(flags.LogFormat, flags.LogLevel)
	slog.SetDefault(logger)

	slog.Info("Starting dynamic-proxy", "version", Version)

	var fileData []byte
	cfg := flags
	if flags.ConfigFile != "" {
		data, err := os.ReadFile(flags.ConfigFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		fileData = data
		fileCfg, errs := appconfig.Parse(data)
		for _, e := range errs {
			if fileCfg == nil {
				return fmt.Errorf("config file %s: %w", flags.ConfigFile, e)
			}
			slog.Warn("Config validation warning", "error", e)
		}
		cfg = flags.withFile(fileCfg)
	}

	prom := metrics.NewPrometheus()

	fallback, err := newFallback(cfg)
	if err != nil {
		return err
	}
	dev := server.NewDevServer(fallback, logger)

	plugin, err := dynamicproxy.New(cfg.options(), logger, retarget.WithRecorder(prom))
	if err != nil {
		return err
	}
	plugin.ConfigureServer(dev)
	prom.ResetTarget(plugin.Config().DefaultTarget)

	broker := sse.NewBroker(dev.Routes(), logger, Version)
	go broker.Run(ctx)
	dev.Handle("events", broker)
	dev.Handle("metrics", prom.Handler())

	var hist history.Writer = history.NoopWriter{}
	if flags.HistoryFile != "" {
		fw, err := history.NewFileWriter(flags.HistoryFile, logger)
		if err != nil {
			return fmt.Errorf("failed to open history file: %w", err)
		}
		defer fw.Close()
		hist = fw
		dev.Handle("history", history.NewHandler(fw.Path()))
		go history.Follow(ctx, dev.Routes(), fw)
	}

	wsConns := websocket.NewRegistry(logger)
	dev.Handle("ws", websocket.NewStream(dev.Routes(), wsConns, logger))

	if flags.HealthInterval > 0 {
		client, insecure := health.NewHTTPClients(5 * time.Second)
		checker := health.NewChecker(dev.Routes(), client, flags.HealthInterval, logger,
			health.WithInsecureClient(insecure),
			health.WithRecorder(prom),
			health.WithHistory(hist),
		)
		dev.Handle("health", checker)
		go checker.Run(ctx)
	}

	if flags.ConfigFile != "" {
		watcher := appconfig.NewWatcher(flags.ConfigFile, func(fileCfg *appconfig.Config, errs []error) {
			reload(dev, prom, flags, fileCfg, errs, logger)
		}, logger, appconfig.WithInitialContent(fileData))
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("config watcher stopped with error", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.ForwardedHeadersMiddleware(server.NewBasePathHandler(cfg.BasePath, dev)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverError := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", cfg.ListenAddr, "basePath", server.NormalizeBasePath(cfg.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		wsConns.CloseAll(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
	case err := <-serverError:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// reload reinstalls the routes from a changed config file. On any error the
// running configuration stays active. Listen address, base path and fallback
// changes need a restart.
func reload(dev *server.DevServer, prom *metrics.Prometheus, flags config, fileCfg *appconfig.Config, errs []error, logger *slog.Logger) {
	for _, e := range errs {
		if fileCfg == nil {
			logger.Error("Config reload parse failed", "error", e)
		} else {
			logger.Warn("Config reload validation warning", "error", e)
		}
	}
	if fileCfg == nil {
		prom.IncReload("error")
		return
	}

	cfg := flags.withFile(fileCfg)
	plugin, err := dynamicproxy.New(cfg.options(), logger, retarget.WithRecorder(prom))
	if err != nil {
		prom.IncReload("error")
		logger.Error("Config reload rejected, keeping previous routes", "error", err)
		return
	}

	dev.Reconfigure(func(h *server.StagedHost) {
		plugin.ConfigureServer(h)
	})
	prom.ResetTarget(plugin.Config().DefaultTarget)
	prom.IncReload("ok")
	logger.Info("Config reloaded", "routes", dev.Routes().Len())
}
