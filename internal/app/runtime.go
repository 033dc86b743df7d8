// Package app owns the lifecycle of the LAN listener and the service
// advertisement around a long-lived hub, and applies configuration changes
// to them while the process runs.
package app

import (
	"context"
	"net/http"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/config"
	"github.com/pearconnect/connect-server/internal/discovery"
	"github.com/pearconnect/connect-server/internal/hub"
	"github.com/pearconnect/connect-server/internal/transport"
)

// Core is the part of the hub the runtime reconfigures.
type Core interface {
	UpdateSettings(s hub.Settings)
	RotateSecret(secret string)
	DisconnectAll()
}

type Listener interface {
	Port() int
	Shutdown(ctx context.Context) error
}

type ListenFunc func(host string, port int, handler http.Handler) (Listener, error)

// Advertiser publishes the server on the local network.
type Advertiser interface {
	Start(info discovery.Info) error
	Update(info discovery.Info) error
	Stop()
}

func TransportListen(host string, port int, handler http.Handler) (Listener, error) {
	return transport.Start(host, port, handler)
}

type Options struct {
	Core       Core
	Handler    http.Handler
	Listen     ListenFunc
	Advertiser Advertiser
	// OnLogLevel is called when the configured log level changes.
	OnLogLevel func(level string)
}

type Runtime struct {
	mu         sync.Mutex
	core       Core
	handler    http.Handler
	listen     ListenFunc
	advertiser Advertiser
	onLogLevel func(string)

	cfg         config.Config
	server      Listener
	advertising bool
}

func New(cfg *config.Config, opts Options) *Runtime {
	listen := opts.Listen
	if listen == nil {
		listen = TransportListen
	}
	return &Runtime{
		core:       opts.Core,
		handler:    opts.Handler,
		listen:     listen,
		advertiser: opts.Advertiser,
		onLogLevel: opts.OnLogLevel,
		cfg:        *cfg,
	}
}

// Settings maps configuration onto what the hub reads.
func Settings(cfg *config.Config) hub.Settings {
	return hub.Settings{
		ServiceName:    cfg.ServiceName,
		RequireAuth:    cfg.RequireAuth,
		AutoSync:       cfg.AutoSync,
		MaxConnections: cfg.MaxConnections,
		Permissions:    cfg.Permissions(),
	}
}

// Start brings the listener and advertisement up when enabled. A listener
// that cannot bind leaves the feature off; it is not fatal.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startLocked()
}

// Port is the bound port, or 0 while the listener is down.
func (r *Runtime) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server == nil {
		return 0
	}
	return r.server.Port()
}

func (r *Runtime) Advertising() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advertising
}

// Apply moves the runtime to cfg. Settings reach the hub first so sessions
// authenticating afterwards get the new permissions.
func (r *Runtime) Apply(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.cfg
	next := *cfg
	if next.SigningSecret == "" {
		next.SigningSecret = old.SigningSecret
	}
	r.cfg = next

	r.core.UpdateSettings(Settings(&next))

	if next.SigningSecret != old.SigningSecret {
		r.core.RotateSecret(next.SigningSecret)
	}
	if next.LogLevel != old.LogLevel && r.onLogLevel != nil {
		r.onLogLevel(next.LogLevel)
	}

	switch {
	case !next.Enabled:
		if old.Enabled {
			log.Info().Msg("remote control disabled")
		}
		r.stopLocked(context.Background())

	case !old.Enabled || r.server == nil || needsRestart(&old, &next):
		log.Info().
			Int("port", next.Port).
			Str("serviceName", next.ServiceName).
			Bool("discoveryEnabled", next.DiscoveryEnabled).
			Msg("restarting listener")
		r.stopLocked(context.Background())
		r.startLocked()

	case r.advertising && old.RequireAuth != next.RequireAuth:
		if err := r.advertiser.Update(r.info()); err != nil {
			log.Warn().Err(err).Msg("failed to update service advertisement")
		}
	}
}

// Stop takes the listener and advertisement down and closes every client.
func (r *Runtime) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(ctx)
}

func needsRestart(old, next *config.Config) bool {
	return old.Port != next.Port ||
		old.ServiceName != next.ServiceName ||
		old.DiscoveryEnabled != next.DiscoveryEnabled
}

func (r *Runtime) startLocked() {
	if !r.cfg.Enabled || r.server != nil {
		return
	}

	server, err := r.listen(r.cfg.Host, r.cfg.Port, r.handler)
	if err != nil {
		log.Error().Err(err).Int("port", r.cfg.Port).Msg("listener failed to start, remote control disabled")
		return
	}
	r.server = server

	if !r.cfg.DiscoveryEnabled || r.advertiser == nil {
		return
	}
	if err := r.advertiser.Start(r.info()); err != nil {
		log.Warn().Err(err).Msg("service advertisement failed, discovery disabled")
		return
	}
	r.advertising = true
}

func (r *Runtime) stopLocked(ctx context.Context) {
	if r.advertising {
		r.advertiser.Stop()
		r.advertising = false
	}
	if r.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, config.ServerShutdownTimeout)
	defer cancel()
	if err := r.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("listener shutdown error")
	}
	r.server = nil
	r.core.DisconnectAll()
}

func (r *Runtime) info() discovery.Info {
	return discovery.Info{
		Name:         r.cfg.ServiceName,
		Port:         r.server.Port(),
		Version:      hub.Version,
		Platform:     runtime.GOOS,
		RequiresAuth: r.cfg.RequireAuth,
	}
}
