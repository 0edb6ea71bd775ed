package permissions

import (
	"net/url"
	"strings"
)

// NetworkMode is the shape of an extension's network grant.
type NetworkMode string

const (
	// NetworkModeFull grants unrestricted outbound access.
	NetworkModeFull NetworkMode = "full"
	// NetworkModeDeny blocks all outbound access. An explicit deny is not
	// escalatable by further consent prompts; only a policy reset clears it.
	NetworkModeDeny NetworkMode = "deny"
	// NetworkModeAllowlist grants access to hosts matching any pattern in
	// the ordered Hosts list.
	NetworkModeAllowlist NetworkMode = "allowlist"
)

// NetworkPolicy is the network entry of a permission record.
type NetworkPolicy struct {
	Mode  NetworkMode `yaml:"mode" json:"mode"`
	Hosts []string    `yaml:"hosts,omitempty" json:"hosts,omitempty"`
}

// AddHost appends a host pattern to the allowlist if not already present.
func (p *NetworkPolicy) AddHost(pattern string) {
	for _, h := range p.Hosts {
		if h == pattern {
			return
		}
	}
	p.Hosts = append(p.Hosts, pattern)
}

// Clone returns a deep copy.
func (p *NetworkPolicy) Clone() *NetworkPolicy {
	if p == nil {
		return nil
	}
	c := &NetworkPolicy{Mode: p.Mode}
	c.Hosts = append(c.Hosts, p.Hosts...)
	return c
}

// IsURLAllowedByHosts reports whether rawURL's host matches any of the given
// patterns. Three pattern shapes are supported:
//
//   - "https://example.com" (contains a scheme): matches only that exact origin
//   - "*.example.com": matches example.com and any subdomain
//   - "example.com": matches the hostname exactly
//
// Matching is case-sensitive on the hostname as normalized by URL parsing.
func IsURLAllowedByHosts(rawURL string, hosts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	for _, pattern := range hosts {
		if hostPatternMatches(pattern, u) {
			return true
		}
	}
	return false
}

func hostPatternMatches(pattern string, u *url.URL) bool {
	if strings.Contains(pattern, "://") {
		p, err := url.Parse(pattern)
		if err != nil {
			return false
		}
		return p.Scheme == u.Scheme && p.Host == u.Host
	}
	host := u.Hostname()
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == rest || strings.HasSuffix(host, "."+rest)
	}
	return host == pattern
}

// HostPatternForURL derives the allowlist pattern recorded when consent is
// granted for a specific target URL: the bare hostname.
func HostPatternForURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return u.Hostname(), true
}
