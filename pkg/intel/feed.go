// Package intel provides a static, seed-file-backed threat-intelligence feed.
// Production deployments swap it for a live feed; the interfaces live in
// pkg/threat.
package intel

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/trustplane/trustplane/pkg/threat"
)

// ReputationEntry flags an address range with a threat finding.
type ReputationEntry struct {
	CIDR        string          `yaml:"cidr"`
	Kind        threat.Kind     `yaml:"kind"`
	Severity    threat.Severity `yaml:"severity"`
	Description string          `yaml:"description"`
}

// UserAgentPattern flags user agents containing a substring.
type UserAgentPattern struct {
	Pattern     string          `yaml:"pattern"`
	Kind        threat.Kind     `yaml:"kind"`
	Severity    threat.Severity `yaml:"severity"`
	Description string          `yaml:"description"`
}

// Config seeds the static feed.
type Config struct {
	MaliciousRanges   []string           `yaml:"malicious_ranges"`
	TorExitNodes      []string           `yaml:"tor_exit_nodes"`
	IPReputation      []ReputationEntry  `yaml:"ip_reputation"`
	UserAgentPatterns []UserAgentPattern `yaml:"user_agent_patterns"`
}

type reputationRule struct {
	network *net.IPNet
	finding threat.SecurityThreat
}

// StaticFeed answers reputation and network-indicator lookups from seeded
// data. Immutable after construction; safe for concurrent use.
type StaticFeed struct {
	maliciousNets []*net.IPNet
	torExits      map[string]struct{}
	reputation    []reputationRule
	uaPatterns    []UserAgentPattern
}

// NewStaticFeed parses the seed config. Invalid CIDRs are rejected up front
// rather than silently skipped.
func NewStaticFeed(cfg Config) (*StaticFeed, error) {
	feed := &StaticFeed{torExits: make(map[string]struct{}, len(cfg.TorExitNodes))}

	for _, raw := range cfg.MaliciousRanges {
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("malicious range %q: %w", raw, err)
		}
		feed.maliciousNets = append(feed.maliciousNets, network)
	}
	for _, ip := range cfg.TorExitNodes {
		feed.torExits[ip] = struct{}{}
	}
	for _, entry := range cfg.IPReputation {
		_, network, err := net.ParseCIDR(entry.CIDR)
		if err != nil {
			return nil, fmt.Errorf("reputation entry %q: %w", entry.CIDR, err)
		}
		feed.reputation = append(feed.reputation, reputationRule{
			network: network,
			finding: threat.SecurityThreat{
				Kind:        entry.Kind,
				Severity:    entry.Severity,
				Description: entry.Description,
				Indicators:  []string{entry.CIDR},
			},
		})
	}
	feed.uaPatterns = cfg.UserAgentPatterns

	return feed, nil
}

// CheckIPReputation returns every reputation finding matching the address.
func (f *StaticFeed) CheckIPReputation(_ context.Context, ip string) ([]threat.SecurityThreat, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid ip %q", ip)
	}
	var found []threat.SecurityThreat
	for _, rule := range f.reputation {
		if rule.network.Contains(parsed) {
			found = append(found, rule.finding)
		}
	}
	return found, nil
}

// CheckUserAgent returns findings for user agents matching a seeded pattern.
func (f *StaticFeed) CheckUserAgent(_ context.Context, userAgent string) ([]threat.SecurityThreat, error) {
	lowered := strings.ToLower(userAgent)
	var found []threat.SecurityThreat
	for _, p := range f.uaPatterns {
		if strings.Contains(lowered, strings.ToLower(p.Pattern)) {
			found = append(found, threat.SecurityThreat{
				Kind:        p.Kind,
				Severity:    p.Severity,
				Description: p.Description,
				Indicators:  []string{p.Pattern},
			})
		}
	}
	return found, nil
}

// IsMaliciousNetwork reports whether the address falls in a seeded range.
func (f *StaticFeed) IsMaliciousNetwork(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range f.maliciousNets {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// IsTorExit reports whether the address is a seeded Tor exit node.
func (f *StaticFeed) IsTorExit(ip string) bool {
	_, ok := f.torExits[ip]
	return ok
}

var (
	_ threat.Feed              = (*StaticFeed)(nil)
	_ threat.NetworkIndicators = (*StaticFeed)(nil)
)
