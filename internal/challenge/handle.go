package challenge

import (
	"sync"
)

// Handle is the single exclusively-owned challenge library slot. Only the
// holder of the current lease may attach a library to it; acquiring a new
// lease tears down whatever the previous owner left behind.
type Handle struct {
	mu    sync.Mutex
	gen   uint64
	owner string
	lib   Library
}

// Lease is one attempt's exclusive claim on the handle.
type Lease struct {
	handle *Handle
	gen    uint64
	owner  string
}

// NewHandle returns an empty handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Acquire revokes any previous lease, closes its library and returns a fresh lease.
func (h *Handle) Acquire(owner string) *Lease {
	h.mu.Lock()
	prev := h.lib
	h.gen++
	h.owner = owner
	h.lib = nil
	lease := &Lease{handle: h, gen: h.gen, owner: owner}
	h.mu.Unlock()

	closeLibrary(prev)
	return lease
}

// Teardown revokes the current lease and closes its library.
func (h *Handle) Teardown() {
	h.mu.Lock()
	prev := h.lib
	h.gen++
	h.owner = ""
	h.lib = nil
	h.mu.Unlock()

	closeLibrary(prev)
}

// holder returns the current lease holder, or "".
func (h *Handle) holder() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

// Valid reports whether the lease is still the current one.
func (l *Lease) Valid() bool {
	l.handle.mu.Lock()
	defer l.handle.mu.Unlock()
	return l.handle.gen == l.gen
}

// Attach installs lib in the handle. A revoked lease closes lib instead and
// returns ErrLeaseRevoked.
func (l *Lease) Attach(lib Library) error {
	l.handle.mu.Lock()
	if l.handle.gen != l.gen {
		l.handle.mu.Unlock()
		closeLibrary(lib)
		return ErrLeaseRevoked
	}
	prev := l.handle.lib
	l.handle.lib = lib
	l.handle.mu.Unlock()

	if prev != nil && prev != lib {
		closeLibrary(prev)
	}
	return nil
}

// Release closes the library and frees the handle if the lease is current.
// A revoked lease is a no-op.
func (l *Lease) Release() {
	l.handle.mu.Lock()
	if l.handle.gen != l.gen {
		l.handle.mu.Unlock()
		return
	}
	prev := l.handle.lib
	l.handle.gen++
	l.handle.owner = ""
	l.handle.lib = nil
	l.handle.mu.Unlock()

	closeLibrary(prev)
}

func closeLibrary(lib Library) {
	if lib != nil {
		_ = lib.Close()
	}
}
