package endpoint

import "sync/atomic"

// IdentityGenerator hands out endpoint identities. The first identity is 0;
// identities are never reused for the lifetime of the generator.
type IdentityGenerator struct {
	next atomic.Uint64
}

func NewIdentityGenerator() *IdentityGenerator {
	return &IdentityGenerator{}
}

// Next returns the next identity.
func (g *IdentityGenerator) Next() uint64 {
	return g.next.Add(1) - 1
}

// DefaultIdentities is the process-wide generator used when New is given nil.
var DefaultIdentities = NewIdentityGenerator()
