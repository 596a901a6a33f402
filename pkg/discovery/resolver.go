package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 5 * time.Second

// Session is a joinable session found on the local network.
type Session struct {
	// Lobby is the decoded TXT record set.
	Lobby LobbyTXT

	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// HostName is the advertiser's host name.
	HostName string

	// Port is the session port.
	Port int

	// IPs contains the resolved addresses.
	IPs []net.IP
}

// Addr returns the session's preferred "host:port" dial address, or
// empty when no address resolved.
func (s *Session) Addr() string {
	if len(s.IPs) == 0 {
		return ""
	}
	return net.JoinHostPort(s.IPs[0].String(), strconv.Itoa(s.Port))
}

// MDNSResolver is the interface for mDNS browsing.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration
}

// Resolver finds open sessions on the local network.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}

	return &Resolver{config: config, resolver: resolver}, nil
}

// Browse collects joinable sessions until the timeout. Entries with
// unreadable TXT records are skipped.
func (r *Resolver) Browse(ctx context.Context) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := r.resolver.Browse(ctx, Service, DefaultDomain, entries); err != nil {
		return nil, err
	}

	var sessions []Session
	for entry := range entries {
		lobby, err := DecodeLobbyTXT(entry.Text)
		if err != nil {
			continue
		}

		var ips []net.IP
		ips = append(ips, entry.AddrIPv4...)
		ips = append(ips, entry.AddrIPv6...)

		sessions = append(sessions, Session{
			Lobby:        lobby,
			InstanceName: entry.Instance,
			HostName:     entry.HostName,
			Port:         entry.Port,
			IPs:          ips,
		})
	}
	return sessions, nil
}

// Find returns the first session advertising the given lobby code, or
// nil when none is found before the timeout.
func (r *Resolver) Find(ctx context.Context, code string) (*Session, error) {
	sessions, err := r.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].Lobby.Code == code {
			return &sessions[i], nil
		}
	}
	return nil, nil
}
