package discovery

import (
	"net"
	"strings"
)

// Candidate is one IPv4 address on a named interface.
type Candidate struct {
	Interface string
	IP        net.IP
}

var (
	physicalHints = []string{"wi-fi", "wlan", "wlp", "ethernet", "eth", "en0", "en1"}
	virtualHints  = []string{"virtual", "wsl", "docker", "vethernet", "veth", "vmware", "virbr", "br-", "utun", "tailscale"}
)

// score prefers physical interfaces and home-network ranges.
func score(c Candidate) int {
	name := strings.ToLower(c.Interface)
	s := 0

	for _, h := range physicalHints {
		if strings.Contains(name, h) {
			s += 20
			break
		}
	}

	ip4 := c.IP.To4()
	switch {
	case ip4[0] == 192 && ip4[1] == 168:
		s += 10
	case ip4[0] == 10:
		s += 5
	case ip4[0] == 172 && ip4[1]&0xf0 == 16:
		s += 3
	}

	for _, h := range virtualHints {
		if strings.Contains(name, h) {
			s -= 20
			break
		}
	}
	return s
}

// BestAddress picks the highest scoring non-loopback IPv4 candidate. Ties
// keep the earlier candidate. With nothing usable it returns 127.0.0.1.
func BestAddress(candidates []Candidate) string {
	best := "127.0.0.1"
	bestScore := -100
	for _, c := range candidates {
		if c.IP == nil || c.IP.IsLoopback() || c.IP.To4() == nil {
			continue
		}
		if s := score(c); s > bestScore {
			bestScore = s
			best = c.IP.To4().String()
		}
	}
	return best
}

// Candidates lists the IPv4 addresses of interfaces that are up.
func Candidates() []Candidate {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var out []Candidate
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.To4() == nil {
				continue
			}
			out = append(out, Candidate{Interface: iface.Name, IP: ip})
		}
	}
	return out
}

// LANAddress is the address companion apps should use to reach this host.
func LANAddress() string {
	return BestAddress(Candidates())
}
