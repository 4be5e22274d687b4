package telemetry

import (
	"sync"
	"time"
)

// TunnelInfo is the admin-visible snapshot of one active tunnel.
type TunnelInfo struct {
	Ctx       string    `json:"ctx"`
	Client    string    `json:"client"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

// TunnelRegistry tracks currently-relaying tunnels for the admin /tunnels
// endpoint. Entries are added once the target is established and removed
// when the controller closes the connection.
type TunnelRegistry struct {
	mu      sync.Mutex
	tunnels map[string]TunnelInfo
}

func NewTunnelRegistry() *TunnelRegistry {
	return &TunnelRegistry{tunnels: map[string]TunnelInfo{}}
}

func (r *TunnelRegistry) Add(info TunnelInfo) {
	r.mu.Lock()
	r.tunnels[info.Ctx] = info
	r.mu.Unlock()
}

func (r *TunnelRegistry) Remove(ctx string) {
	r.mu.Lock()
	delete(r.tunnels, ctx)
	r.mu.Unlock()
}

func (r *TunnelRegistry) Snapshot() []TunnelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TunnelInfo, 0, len(r.tunnels))
	for _, v := range r.tunnels {
		out = append(out, v)
	}
	return out
}
