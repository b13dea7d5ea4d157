// Package lease implements the in-memory lease/lock provider (spec §4.11
// "Lease/lock provider"): named, epoch-fenced leases with TTL expiry,
// acquire/renew/release. Intended for coordinating ownership across
// multiple in-process writers (e.g. a maintenance job and the client
// facade) the same way the teacher's fileLock coordinates external
// processes over a single ticket file, but scoped in-process and
// epoch-fenced rather than OS-level flock'd.
package lease

import (
	"sync"

	"github.com/velodb/vela/internal/coordination"
)

type entry struct {
	holder string
	epoch  uint64
	until  int64
}

// Provider grants leases on named resources, fenced by a monotonically
// increasing per-name epoch.
type Provider struct {
	mu      sync.Mutex
	clock   coordination.Clock
	leases  map[string]*entry
	epochAt map[string]uint64
}

// New returns a Provider driven by clock.
func New(clock coordination.Clock) *Provider {
	return &Provider{
		clock:   clock,
		leases:  make(map[string]*entry),
		epochAt: make(map[string]uint64),
	}
}

// Grant is the result of a successful Acquire/Renew.
type Grant struct {
	Epoch uint64
	Until int64
}

func (p *Provider) nextEpoch(name string) uint64 {
	p.epochAt[name]++

	return p.epochAt[name]
}

// Acquire grants a lease on name for ttlMs to holder if unheld or expired,
// issuing a strictly higher epoch than any previous grant for name (spec
// §4.11: "expired leases are reacquirable with a strictly higher epoch").
func (p *Provider) Acquire(name string, ttlMs int64, holder string) (Grant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()

	if existing, ok := p.leases[name]; ok && existing.until > now {
		return Grant{}, false
	}

	epoch := p.nextEpoch(name)
	until := now + ttlMs

	p.leases[name] = &entry{holder: holder, epoch: epoch, until: until}

	return Grant{Epoch: epoch, Until: until}, true
}

// Renew extends a lease's TTL if epoch still owns it (even if it has
// since expired — no other holder has acquired it in the interim).
func (p *Provider) Renew(name string, epoch uint64, ttlMs int64) (Grant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.leases[name]
	if !ok || existing.epoch != epoch {
		return Grant{}, false
	}

	existing.until = p.clock.Now() + ttlMs

	return Grant{Epoch: existing.epoch, Until: existing.until}, true
}

// Release clears the lease iff epoch matches the current holder.
func (p *Provider) Release(name string, epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.leases[name]
	if !ok || existing.epoch != epoch {
		return false
	}

	delete(p.leases, name)

	return true
}
