// Package discovery advertises the server on the local network over
// DNS-SD and picks the address companion apps should dial.
package discovery

import (
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_pear-connect._tcp"
	Domain      = "local."
)

// Info is what gets advertised.
type Info struct {
	Name         string
	Port         int
	Version      string
	Platform     string
	RequiresAuth bool
}

func (i Info) txt() []string {
	return []string{
		fmt.Sprintf("version=%s", i.Version),
		fmt.Sprintf("platform=%s", i.Platform),
		fmt.Sprintf("requiresAuth=%t", i.RequiresAuth),
	}
}

// registerFunc matches zeroconf.Register; tests swap it out.
type registerFunc func(instance, service, domain string, port int, text []string) (shutdowner, error)

type shutdowner interface {
	Shutdown()
}

func zeroconfRegister(instance, service, domain string, port int, text []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

// MDNSAdvertiser publishes one service instance at a time.
type MDNSAdvertiser struct {
	mu       sync.Mutex
	register registerFunc
	server   shutdowner
	current  Info
}

func NewMDNSAdvertiser() *MDNSAdvertiser {
	return &MDNSAdvertiser{register: zeroconfRegister}
}

// Start publishes info, replacing any earlier registration.
func (a *MDNSAdvertiser) Start(info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()

	server, err := a.register(info.Name, ServiceType, Domain, info.Port, info.txt())
	if err != nil {
		return fmt.Errorf("mdns register %q: %w", info.Name, err)
	}
	a.server = server
	a.current = info

	log.Info().
		Str("serviceName", info.Name).
		Str("serviceType", ServiceType).
		Int("port", info.Port).
		Bool("requiresAuth", info.RequiresAuth).
		Msg("service advertised")
	return nil
}

// Update re-publishes with new info when something advertised changed.
func (a *MDNSAdvertiser) Update(info Info) error {
	a.mu.Lock()
	same := a.server != nil && a.current == info
	a.mu.Unlock()
	if same {
		return nil
	}
	return a.Start(info)
}

func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *MDNSAdvertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

func (a *MDNSAdvertiser) stopLocked() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	log.Info().Str("serviceName", a.current.Name).Msg("service advertisement stopped")
}
