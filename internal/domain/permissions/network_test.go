package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsURLAllowedByHosts(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		hosts   []string
		allowed bool
	}{
		{
			name:    "exact hostname match",
			url:     "https://api.example.com/v1/data",
			hosts:   []string{"api.example.com"},
			allowed: true,
		},
		{
			name:    "exact hostname rejects sibling",
			url:     "https://evil.example.com/",
			hosts:   []string{"api.example.com"},
			allowed: false,
		},
		{
			name:    "wildcard matches apex",
			url:     "https://example.com/",
			hosts:   []string{"*.example.com"},
			allowed: true,
		},
		{
			name:    "wildcard matches subdomain",
			url:     "https://deep.api.example.com/",
			hosts:   []string{"*.example.com"},
			allowed: true,
		},
		{
			name:    "wildcard rejects suffix lookalike",
			url:     "https://notexample.com/",
			hosts:   []string{"*.example.com"},
			allowed: false,
		},
		{
			name:    "origin pattern matches scheme and host",
			url:     "https://example.com/path",
			hosts:   []string{"https://example.com"},
			allowed: true,
		},
		{
			name:    "origin pattern rejects other scheme",
			url:     "http://example.com/path",
			hosts:   []string{"https://example.com"},
			allowed: false,
		},
		{
			name:    "origin pattern rejects other port",
			url:     "https://example.com:8443/path",
			hosts:   []string{"https://example.com"},
			allowed: false,
		},
		{
			name:    "second pattern can match",
			url:     "wss://feed.example.org/stream",
			hosts:   []string{"api.example.com", "feed.example.org"},
			allowed: true,
		},
		{
			name:    "empty allowlist denies",
			url:     "https://example.com/",
			hosts:   nil,
			allowed: false,
		},
		{
			name:    "unparseable url denies",
			url:     "://nope",
			hosts:   []string{"*.example.com"},
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, IsURLAllowedByHosts(tt.url, tt.hosts))
		})
	}
}

func TestHostPatternForURL(t *testing.T) {
	pattern, ok := HostPatternForURL("https://api.example.com:8443/v1")
	assert.True(t, ok)
	assert.Equal(t, "api.example.com", pattern)

	_, ok = HostPatternForURL("not a url")
	assert.False(t, ok)
}

func TestNetworkPolicy_AddHost(t *testing.T) {
	p := &NetworkPolicy{Mode: NetworkModeAllowlist}
	p.AddHost("api.example.com")
	p.AddHost("api.example.com")
	p.AddHost("feed.example.org")

	assert.Equal(t, []string{"api.example.com", "feed.example.org"}, p.Hosts)
}

func TestNetworkPolicy_Clone(t *testing.T) {
	p := &NetworkPolicy{Mode: NetworkModeAllowlist, Hosts: []string{"a.example.com"}}
	c := p.Clone()
	c.AddHost("b.example.com")

	assert.Len(t, p.Hosts, 1)
	assert.Len(t, c.Hosts, 2)

	var nilPolicy *NetworkPolicy
	assert.Nil(t, nilPolicy.Clone())
}

func TestRecord_SimpleGrants(t *testing.T) {
	r := NewRecord()
	assert.True(t, r.IsEmpty())
	assert.False(t, r.HasSimple(CellsRead))

	r.GrantSimple(CellsRead)
	assert.True(t, r.HasSimple(CellsRead))
	assert.False(t, r.IsEmpty())

	r.RevokeSimple(CellsRead)
	assert.False(t, r.HasSimple(CellsRead))
	assert.True(t, r.IsEmpty())
}

func TestRecord_Clone(t *testing.T) {
	r := NewRecord()
	r.GrantSimple(Clipboard)
	r.Network = &NetworkPolicy{Mode: NetworkModeFull}

	c := r.Clone()
	c.GrantSimple(Storage)
	c.Network.Mode = NetworkModeDeny

	assert.False(t, r.HasSimple(Storage))
	assert.Equal(t, NetworkModeFull, r.Network.Mode)
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown(CellsRead))
	assert.True(t, IsKnown(Network))
	assert.False(t, IsKnown("cells.execute"))
	assert.False(t, IsKnown(""))
}
