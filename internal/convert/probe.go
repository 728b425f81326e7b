package convert

import (
	"os/exec"
	"sync"
	"time"
)

const defaultProbeTTL = 5 * time.Second

// Probe answers "is the external tool for this category installed?" by
// searching PATH. Results are cached for a short TTL so per-request checks
// stay cheap under load. A missing binary is a clean negative, never an error.
type Probe struct {
	mu       sync.Mutex
	ttl      time.Duration
	binaries map[Category][]string
	cache    map[Category]probeEntry

	lookPath func(string) (string, error)
	now      func() time.Time
}

type probeEntry struct {
	path      string
	ok        bool
	checkedAt time.Time
}

// ProbeOptions configures binary candidates per category. Empty fields fall
// back to the stock tool names.
type ProbeOptions struct {
	TTL            time.Duration
	OfficeBinaries []string
	VectorBinaries []string
}

func NewProbe(opts ProbeOptions) *Probe {
	if opts.TTL <= 0 {
		opts.TTL = defaultProbeTTL
	}
	if len(opts.OfficeBinaries) == 0 {
		opts.OfficeBinaries = []string{"soffice", "libreoffice"}
	}
	if len(opts.VectorBinaries) == 0 {
		opts.VectorBinaries = []string{"inkscape"}
	}
	return &Probe{
		ttl: opts.TTL,
		binaries: map[Category][]string{
			CategoryDoc:    opts.OfficeBinaries,
			CategoryVector: opts.VectorBinaries,
		},
		cache:    make(map[Category]probeEntry),
		lookPath: exec.LookPath,
		now:      time.Now,
	}
}

// Available reports whether the category's tool can be invoked. The image
// category needs no external binary and is always available.
func (p *Probe) Available(category Category) bool {
	_, ok := p.Path(category)
	return ok
}

// Path returns the resolved binary path for the category's tool.
func (p *Probe) Path(category Category) (string, bool) {
	candidates, needsTool := p.binaries[category]
	if !needsTool {
		return "", true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, cached := p.cache[category]; cached && p.now().Sub(entry.checkedAt) < p.ttl {
		return entry.path, entry.ok
	}

	entry := probeEntry{checkedAt: p.now()}
	for _, name := range candidates {
		if path, err := p.lookPath(name); err == nil {
			entry.path = path
			entry.ok = true
			break
		}
	}
	p.cache[category] = entry
	return entry.path, entry.ok
}

// Invalidate drops cached probe results, forcing a fresh PATH lookup on the
// next call. Intended for admin action after installing a tool.
func (p *Probe) Invalidate() {
	p.mu.Lock()
	p.cache = make(map[Category]probeEntry)
	p.mu.Unlock()
}

// UseLookPath allows tests to fake binary resolution.
// Intended for test setup only, before the probe is shared.
func (p *Probe) UseLookPath(fn func(string) (string, error)) {
	p.mu.Lock()
	p.lookPath = fn
	p.cache = make(map[Category]probeEntry)
	p.mu.Unlock()
}
