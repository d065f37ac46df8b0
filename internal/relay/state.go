// Package relay implements the multi-tenant edge proxy: subdomain
// registration, on-demand TLS checks, and the catch-all HTTP/WebSocket
// proxy to bore tunnel ports. All state lives in memory; a restart loses
// it by design.
package relay

import (
	"crypto/rand"
	"math/big"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nomadflow/nomadflow/internal/common/logger"
)

const (
	// MaxTunnelsPerIP caps concurrently active tunnels per source IP.
	MaxTunnelsPerIP = 3
	// MaxRegistrationsPerHour caps registration attempts per source IP.
	MaxRegistrationsPerHour = 10

	// tunnelTTL evicts tunnels unused for this long.
	tunnelTTL = 24 * time.Hour
	// rateLimitWindow is the sliding window for registration counting.
	rateLimitWindow = time.Hour
	// cleanupInterval is how often the eviction pass runs.
	cleanupInterval = 5 * time.Minute
)

// Config holds the relay process configuration, read from the environment.
type Config struct {
	// Secret authenticates registrations. Empty disables the check.
	Secret string
	// BoreHost is where tunnel ports are reachable.
	BoreHost string
	// Port is the relay's HTTP listen port.
	Port int
}

// ConfigFromEnv reads RELAY_SECRET, BORE_HOST (default 127.0.0.1), and
// RELAY_PORT (default 3000).
func ConfigFromEnv() Config {
	cfg := Config{
		Secret:   os.Getenv("RELAY_SECRET"),
		BoreHost: "127.0.0.1",
		Port:     3000,
	}
	if host := os.Getenv("BORE_HOST"); host != "" {
		cfg.BoreHost = host
	}
	if port, err := strconv.Atoi(os.Getenv("RELAY_PORT")); err == nil && port > 0 {
		cfg.Port = port
	}
	return cfg
}

// tunnelEntry maps a subdomain to its backend port.
type tunnelEntry struct {
	borePort uint16
	lastUsed time.Time
	clientIP string
}

// State holds the tunnel registry and per-IP rate limits.
type State struct {
	cfg Config
	log *logger.Logger

	mu      sync.RWMutex
	tunnels map[string]*tunnelEntry

	rlMu       sync.Mutex
	rateLimits map[string][]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewState creates an empty relay state.
func NewState(cfg Config, log *logger.Logger) *State {
	if log == nil {
		log = logger.Default()
	}
	return &State{
		cfg:        cfg,
		log:        log.WithComponent("relay"),
		tunnels:    make(map[string]*tunnelEntry),
		rateLimits: make(map[string][]time.Time),
		now:        time.Now,
	}
}

// activeTunnels counts tunnels currently owned by ip.
func (s *State) activeTunnels(ip string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, entry := range s.tunnels {
		if entry.clientIP == ip {
			count++
		}
	}
	return count
}

// allowRegistration prunes the ip's window, checks the hourly cap, and
// records the attempt, all under one lock so concurrent registrations
// cannot slip past the threshold.
func (s *State) allowRegistration(ip string) bool {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()
	cutoff := s.now().Add(-rateLimitWindow)
	kept := s.rateLimits[ip][:0]
	for _, ts := range s.rateLimits[ip] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= MaxRegistrationsPerHour {
		s.rateLimits[ip] = kept
		return false
	}
	s.rateLimits[ip] = append(kept, s.now())
	return true
}

// lookup resolves a subdomain and touches lastUsed.
func (s *State) lookup(subdomain string) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tunnels[subdomain]
	if !ok {
		return 0, false
	}
	entry.lastUsed = s.now()
	return entry.borePort, true
}

// exists reports whether a subdomain is registered, without touching it.
func (s *State) exists(subdomain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tunnels[subdomain]
	return ok
}

// owner returns the registering IP of a subdomain.
func (s *State) owner(subdomain string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tunnels[subdomain]
	if !ok {
		return "", false
	}
	return entry.clientIP, true
}

// insert registers or overwrites a tunnel.
func (s *State) insert(subdomain string, port uint16, ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunnels[subdomain] = &tunnelEntry{borePort: port, lastUsed: s.now(), clientIP: ip}
}

// Cleanup evicts tunnels idle past the TTL and prunes rate-limit entries.
func (s *State) Cleanup() {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for sub, entry := range s.tunnels {
		if now.Sub(entry.lastUsed) >= tunnelTTL {
			delete(s.tunnels, sub)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.log.Info("cleaned up stale tunnel entries", zap.Int("removed", removed))
	}

	s.rlMu.Lock()
	cutoff := now.Add(-rateLimitWindow)
	for ip, timestamps := range s.rateLimits {
		kept := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(s.rateLimits, ip)
		} else {
			s.rateLimits[ip] = kept
		}
	}
	s.rlMu.Unlock()
}

// RunCleanup runs the eviction pass every cleanupInterval until ctx ends.
func (s *State) RunCleanup(done <-chan struct{}) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

const subdomainAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// generateSubdomain returns 6 random lowercase-alphanumeric characters.
func generateSubdomain() string {
	out := make([]byte, 6)
	max := big.NewInt(int64(len(subdomainAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = subdomainAlphabet[idx.Int64()]
	}
	return string(out)
}

// validSubdomain checks length 3-32, charset [A-Za-z0-9-], and no edge
// hyphens. Uppercase never round-trips through DNS, so the handler also
// rejects it separately.
func validSubdomain(s string) bool {
	if len(s) < 3 || len(s) > 32 {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// clientIPFrom extracts the first X-Forwarded-For entry, falling back to
// the socket peer.
func clientIPFrom(xff, remoteAddr string) string {
	if xff != "" {
		first, _, _ := cutComma(xff)
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func cutComma(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return trimSpace(s[:i]), s[i+1:], true
		}
	}
	return trimSpace(s), "", false
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
