package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pearconnect/connect-server/internal/discovery"
	"github.com/pearconnect/connect-server/internal/httputil"
	"github.com/pearconnect/connect-server/internal/middleware"
	"github.com/pearconnect/connect-server/internal/protocol"
	"github.com/pearconnect/connect-server/internal/service"
)

// Core is what the LAN listener needs from the hub.
type Core interface {
	Handler
	Info() protocol.DeviceInfo
}

type InfoResponse struct {
	protocol.DeviceInfo
	Port int    `json:"port"`
	IP   string `json:"ip"`
}

// RouterOptions tune the LAN router. The zero value is usable.
type RouterOptions struct {
	// ConnectLimiter bounds WebSocket upgrades per client IP. Nil disables it.
	ConnectLimiter service.AttemptLimiter
	// LANAddress overrides LAN address detection for /info.
	LANAddress func() string
}

// NewRouter builds the handler served on the LAN listener.
func NewRouter(ctx context.Context, core Core, opts RouterOptions) http.Handler {
	lanAddress := opts.LANAddress
	if lanAddress == nil {
		lanAddress = discovery.LANAddress
	}
	ws := NewWebSocketHandler(ctx, core)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, InfoResponse{
			DeviceInfo: core.Info(),
			Port:       localPort(r),
			IP:         lanAddress(),
		})
	})

	r.Group(func(r chi.Router) {
		if opts.ConnectLimiter != nil {
			r.Use(middleware.NewIPRateLimitMiddleware(opts.ConnectLimiter, "ws").Handler)
		}
		r.Get("/ws", ws.ServeHTTP)
		r.Get("/", ws.ServeHTTP)
	})

	return r
}

func localPort(r *http.Request) int {
	addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	if !ok {
		return 0
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
