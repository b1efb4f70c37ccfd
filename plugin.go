// Package dynamicproxy retargets a development server's proxied API routes
// at runtime from a "debug" query parameter on the referring page.
package dynamicproxy

import (
	"log/slog"
	"net/http"

	"github.com/rathix/dynamic-proxy/internal/retarget"
	"github.com/rathix/dynamic-proxy/internal/routes"
)

// Host is the development server the plugin registers with.
type Host interface {
	// Routes returns the route table slot consulted by the host's proxy.
	Routes() *routes.Table
	// Use installs a per-request middleware ahead of the host's handlers.
	Use(mw func(http.Handler) http.Handler)
}

// Plugin holds a validated configuration ready to be installed on a Host.
type Plugin struct {
	cfg    routes.Config
	logger *slog.Logger
	opts   []retarget.Option
}

// New validates opts. Validation errors are fatal for setup.
func New(opts routes.Options, logger *slog.Logger, icptOpts ...retarget.Option) (*Plugin, error) {
	cfg, err := routes.Validate(opts)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	paths := make([]string, 0, len(cfg.Paths))
	for _, p := range cfg.Paths {
		paths = append(paths, string(p))
	}
	logger.Info(routes.Name+" plugin configuration",
		"defaultTarget", cfg.DefaultTarget,
		"paths", paths,
		"changeOrigin", cfg.ChangeOrigin,
	)

	return &Plugin{cfg: cfg, logger: logger, opts: icptOpts}, nil
}

// Name identifies the plugin.
func (p *Plugin) Name() string {
	return routes.Name
}

// Config returns the validated configuration.
func (p *Plugin) Config() routes.Config {
	return p.cfg
}

// ConfigureServer installs the initial route table into host, replacing any
// existing routes, and registers the retargeting middleware.
func (p *Plugin) ConfigureServer(host Host) *retarget.Interceptor {
	table := host.Routes()
	routes.Install(table, p.cfg)

	icpt := retarget.New(p.cfg, table, p.logger, p.opts...)
	host.Use(icpt.Middleware)
	return icpt
}
