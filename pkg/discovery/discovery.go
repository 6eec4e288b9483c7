// Package discovery produces sets of reachable peers. Three strategies are
// provided: plain local-network probing, authenticated local probing, and
// overlay-network roster listing. A strategy never treats an unreachable
// host as an error; silence is the expected common case on a scan.
package discovery

import (
	"time"

	"github.com/rohitg00/skillmesh/pkg/config"
)

// Options tune one discovery pass.
type Options struct {
	// Port is the mesh service port probed on every candidate.
	Port int
	// ProbeTimeout bounds a single host probe, independent of Timeout.
	ProbeTimeout time.Duration
	// Timeout bounds the whole pass.
	Timeout time.Duration
	// Fanout caps concurrently outstanding probes.
	Fanout int
	// Candidates overrides subnet derivation with an explicit host list
	// (hosts without a port get Port appended).
	Candidates []string
	// CIDRs overrides which subnets are scanned.
	CIDRs []string
	// SelfPort is the mesh port this node itself listens on; candidates that
	// resolve to a local interface address on that port are excluded. Zero
	// means the node is not listening and nothing is excluded.
	SelfPort int
	// MaxSkew bounds challenge timestamp drift for the secure strategy.
	MaxSkew time.Duration
}

func (o Options) withDefaults() Options {
	if o.Port <= 0 {
		o.Port = config.DefaultMeshPort
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 300 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.Fanout <= 0 {
		o.Fanout = 64
	}
	return o
}

// OptionsFromConfig maps the discovery config section onto Options.
func OptionsFromConfig(c config.DiscoveryConfig) Options {
	return Options{
		Port:         c.Port,
		ProbeTimeout: time.Duration(c.ProbeTimeoutMS) * time.Millisecond,
		Timeout:      time.Duration(c.TimeoutMS) * time.Millisecond,
		Fanout:       c.Fanout,
		CIDRs:        c.CIDRs,
	}
}
