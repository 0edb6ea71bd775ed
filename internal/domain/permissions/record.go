package permissions

// Record holds the permissions granted to one extension. Simple permissions
// are boolean grants; the network permission carries a policy with
// host-sensitive semantics.
type Record struct {
	Simple  map[string]bool `yaml:"simple,omitempty" json:"simple,omitempty"`
	Network *NetworkPolicy  `yaml:"network,omitempty" json:"network,omitempty"`
}

// NewRecord creates an empty Record.
func NewRecord() *Record {
	return &Record{Simple: make(map[string]bool)}
}

// HasSimple reports whether a simple permission is granted.
func (r *Record) HasSimple(name string) bool {
	if r == nil {
		return false
	}
	return r.Simple[name]
}

// GrantSimple marks a simple permission as granted.
func (r *Record) GrantSimple(name string) {
	if r.Simple == nil {
		r.Simple = make(map[string]bool)
	}
	r.Simple[name] = true
}

// RevokeSimple removes a simple permission grant.
func (r *Record) RevokeSimple(name string) {
	delete(r.Simple, name)
}

// IsEmpty reports whether the record grants nothing.
func (r *Record) IsEmpty() bool {
	return r == nil || (len(r.Simple) == 0 && r.Network == nil)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := NewRecord()
	for k, v := range r.Simple {
		c.Simple[k] = v
	}
	c.Network = r.Network.Clone()
	return c
}
