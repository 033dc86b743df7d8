package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestAddress(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		want       string
	}{
		{"no candidates falls back to loopback", nil, "127.0.0.1"},
		{"skips loopback and ipv6", []Candidate{
			{"lo", net.ParseIP("127.0.0.1")},
			{"en0", net.ParseIP("fe80::1")},
		}, "127.0.0.1"},
		{"prefers wifi over docker", []Candidate{
			{"docker0", net.ParseIP("172.17.0.1")},
			{"wlan0", net.ParseIP("192.168.1.42")},
		}, "192.168.1.42"},
		{"prefers 192.168 over 10 on unnamed interfaces", []Candidate{
			{"if1", net.ParseIP("10.0.0.7")},
			{"if2", net.ParseIP("192.168.0.7")},
		}, "192.168.0.7"},
		{"virtual interface loses even with home range", []Candidate{
			{"vEthernet (WSL)", net.ParseIP("192.168.80.1")},
			{"Ethernet", net.ParseIP("10.1.2.3")},
		}, "10.1.2.3"},
		{"ties keep the first", []Candidate{
			{"eth0", net.ParseIP("192.168.1.10")},
			{"eth1", net.ParseIP("192.168.1.11")},
		}, "192.168.1.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BestAddress(tt.candidates))
		})
	}
}

type fakeServer struct {
	shutdowns int
}

func (f *fakeServer) Shutdown() { f.shutdowns++ }

type registration struct {
	instance, service, domain string
	port                      int
	text                      []string
}

func newFakeAdvertiser(fail bool) (*MDNSAdvertiser, *[]registration, *[]*fakeServer) {
	var regs []registration
	var servers []*fakeServer
	a := &MDNSAdvertiser{register: func(instance, service, domain string, port int, text []string) (shutdowner, error) {
		if fail {
			return nil, errors.New("no multicast interface")
		}
		regs = append(regs, registration{instance, service, domain, port, text})
		s := &fakeServer{}
		servers = append(servers, s)
		return s, nil
	}}
	return a, &regs, &servers
}

func TestMDNSAdvertiser(t *testing.T) {
	info := Info{Name: "Pear Desktop", Port: 8888, Version: "1.0.0", Platform: "linux", RequiresAuth: true}

	t.Run("registers service with txt records", func(t *testing.T) {
		a, regs, _ := newFakeAdvertiser(false)
		require.NoError(t, a.Start(info))

		require.Len(t, *regs, 1)
		r := (*regs)[0]
		assert.Equal(t, "Pear Desktop", r.instance)
		assert.Equal(t, "_pear-connect._tcp", r.service)
		assert.Equal(t, "local.", r.domain)
		assert.Equal(t, 8888, r.port)
		assert.Equal(t, []string{"version=1.0.0", "platform=linux", "requiresAuth=true"}, r.text)
		assert.True(t, a.Running())
	})

	t.Run("update with same info is a no-op", func(t *testing.T) {
		a, regs, _ := newFakeAdvertiser(false)
		require.NoError(t, a.Start(info))
		require.NoError(t, a.Update(info))
		assert.Len(t, *regs, 1)
	})

	t.Run("update with new port re-registers", func(t *testing.T) {
		a, regs, servers := newFakeAdvertiser(false)
		require.NoError(t, a.Start(info))

		moved := info
		moved.Port = 8889
		require.NoError(t, a.Update(moved))

		assert.Len(t, *regs, 2)
		assert.Equal(t, 1, (*servers)[0].shutdowns)
		assert.Equal(t, 8889, (*regs)[1].port)
	})

	t.Run("stop shuts the registration down", func(t *testing.T) {
		a, _, servers := newFakeAdvertiser(false)
		require.NoError(t, a.Start(info))
		a.Stop()
		a.Stop()

		assert.Equal(t, 1, (*servers)[0].shutdowns)
		assert.False(t, a.Running())
	})

	t.Run("register failure leaves advertiser stopped", func(t *testing.T) {
		a, _, _ := newFakeAdvertiser(true)
		assert.Error(t, a.Start(info))
		assert.False(t, a.Running())
	})
}
