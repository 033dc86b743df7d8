package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/config"
	apperrors "github.com/pearconnect/connect-server/internal/errors"
)

// Listen binds host:port, moving on to the next port while the current one
// is taken. After attempts ports it gives up with PORT_UNAVAILABLE.
func Listen(host string, port, attempts int) (net.Listener, error) {
	if attempts <= 0 {
		attempts = config.PortAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		addr := net.JoinHostPort(host, fmt.Sprint(port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				log.Warn().Int("requestedPort", port).Int("port", port+i).Msg("requested port in use, using fallback")
			}
			return ln, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
		log.Debug().Int("port", port+i).Msg("port in use")
	}

	return nil, apperrors.PortUnavailable(port, attempts, lastErr)
}

// Server is the LAN-facing HTTP listener carrying the WebSocket endpoint.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// Start binds a listener with port fallback and serves handler on it.
func Start(host string, port int, handler http.Handler) (*Server, error) {
	ln, err := Listen(host, port, config.PortAttempts)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: ln,
		httpServer: &http.Server{
			Handler:     handler,
			ReadTimeout: config.ServerReadTimeout,
			// WebSocket connections are long-lived.
			WriteTimeout: 0,
			IdleTimeout:  config.ServerIdleTimeout,
		},
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", ln.Addr().String()).Msg("transport listener started")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("transport listener error")
		}
	}()

	return s, nil
}

// Port is the port actually bound, which may differ from the requested one.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops accepting and waits for in-flight HTTP requests. Hijacked
// WebSocket connections are not tracked by http.Server; the hub closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	log.Info().Int("port", s.Port()).Msg("transport listener stopped")
	return err
}
