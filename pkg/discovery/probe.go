package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rohitg00/skillmesh/pkg/handshake"
)

// probeClient speaks the mesh probe protocol against candidate hosts. One
// client is shared by a whole scan; keep-alives are off because almost every
// candidate is expected to be unreachable.
type probeClient struct {
	http    *http.Client
	service string
}

func newProbeClient(probeTimeout time.Duration) *probeClient {
	return &probeClient{
		http: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
				DialContext: (&net.Dialer{
					Timeout: probeTimeout,
				}).DialContext,
			},
			// Per-request deadlines come from the probe context.
		},
		service: handshake.DefaultService,
	}
}

// Probe sends one discovery probe and returns the responder's identity echo.
// Any transport failure, bad status, or protocol mismatch is returned as an
// error; callers drop those hosts silently.
func (c *probeClient) Probe(ctx context.Context, addr string) (handshake.ProbeResponse, error) {
	req := handshake.ProbeRequest{ProtocolVersion: handshake.ProtocolVersion, Service: c.service}
	var resp handshake.ProbeResponse
	if err := c.postJSON(ctx, addr, "/mesh/v1/probe", req, &resp); err != nil {
		return handshake.ProbeResponse{}, err
	}
	if !resp.Valid(c.service) {
		return handshake.ProbeResponse{}, fmt.Errorf("probe %s: protocol mismatch (version %d, service %q)",
			addr, resp.ProtocolVersion, resp.Service)
	}
	return resp, nil
}

// Challenge runs the signed challenge/response exchange against a confirmed
// responder.
func (c *probeClient) Challenge(ctx context.Context, addr string, req handshake.ChallengeRequest) (handshake.ChallengeResponse, error) {
	var resp handshake.ChallengeResponse
	if err := c.postJSON(ctx, addr, "/mesh/v1/challenge", req, &resp); err != nil {
		return handshake.ChallengeResponse{}, err
	}
	return resp, nil
}

func (c *probeClient) postJSON(ctx context.Context, addr, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	url := "http://" + addr + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", addr, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Prober is the exported one-shot probe surface used by operator tooling.
// Discovery passes use the shared internal client directly.
type Prober struct {
	c *probeClient
}

// NewProber builds a prober with the given per-attempt timeout.
func NewProber(probeTimeout time.Duration) *Prober {
	if probeTimeout <= 0 {
		probeTimeout = 300 * time.Millisecond
	}
	return &Prober{c: newProbeClient(probeTimeout)}
}

// Probe checks whether addr hosts a compatible mesh node.
func (p *Prober) Probe(ctx context.Context, addr string) (handshake.ProbeResponse, error) {
	return p.c.Probe(ctx, addr)
}
