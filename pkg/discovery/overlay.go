package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/config"
	"github.com/rohitg00/skillmesh/pkg/peers"
)

// ErrOverlayUnavailable reports that the overlay control plane could not be
// reached. Distinct from an empty roster so callers can fall back to local
// scanning.
var ErrOverlayUnavailable = errors.New("discovery: overlay control plane unavailable")

// OverlayDiscovery lists peers from the overlay network's local control
// plane. No scanning happens; the control plane already knows the roster and
// resolves named hosts to addresses.
type OverlayDiscovery struct {
	endpoint string
	meshPort int
	http     *http.Client
	registry *peers.Registry
}

// rosterResponse is the control plane's peer listing.
type rosterResponse struct {
	Peers []rosterPeer `json:"peers"`
}

type rosterPeer struct {
	HostName string `json:"host_name"`
	Addr     string `json:"addr"` // resolved overlay IP
	Port     int    `json:"port,omitempty"`
	Online   bool   `json:"online"`
}

func NewOverlay(c config.OverlayConfig, meshPort int, reg *peers.Registry) *OverlayDiscovery {
	timeout := time.Duration(c.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	return &OverlayDiscovery{
		endpoint: c.Endpoint,
		meshPort: meshPort,
		http:     &http.Client{Timeout: timeout},
		registry: reg,
	}
}

// DiscoverOnce queries the control plane roster. An unreachable control
// plane yields ErrOverlayUnavailable and no peers; an empty roster yields
// (nil, nil).
func (d *OverlayDiscovery) DiscoverOnce(ctx context.Context) ([]peers.Peer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/v1/roster", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOverlayUnavailable, err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		zap.L().Debug("overlay control plane unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrOverlayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrOverlayUnavailable, resp.StatusCode)
	}
	var roster rosterResponse
	if err := json.NewDecoder(resp.Body).Decode(&roster); err != nil {
		return nil, fmt.Errorf("%w: decode roster: %v", ErrOverlayUnavailable, err)
	}

	var out []peers.Peer
	for _, rp := range roster.Peers {
		if !rp.Online || rp.Addr == "" {
			continue
		}
		port := rp.Port
		if port == 0 {
			port = d.meshPort
		}
		p := peers.New(rp.Addr, port, peers.SourceOverlay)
		p.NodeID = rp.HostName
		d.registry.Upsert(p)
		out = append(out, p)
	}
	return out, nil
}

// Cached returns the registry's current overlay peers without querying.
func (d *OverlayDiscovery) Cached() []peers.Peer {
	return d.registry.ListBySource(peers.SourceOverlay)
}
