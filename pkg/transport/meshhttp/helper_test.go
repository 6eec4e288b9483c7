package meshhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rohitg00/skillmesh/pkg/handshake"
)

// probeTestClient speaks the probe and challenge wire shapes directly so the
// server handlers are exercised without going through the discovery package.
type probeTestClient struct {
	http *http.Client
}

func newProbeTestClient(t *testing.T) *probeTestClient {
	t.Helper()
	return &probeTestClient{http: &http.Client{Timeout: 2 * time.Second}}
}

func (c *probeTestClient) probe(addr string, req handshake.ProbeRequest) (handshake.ProbeResponse, error) {
	var resp handshake.ProbeResponse
	err := c.post(addr, "/mesh/v1/probe", req, &resp)
	return resp, err
}

func (c *probeTestClient) challenge(addr string, req handshake.ChallengeRequest) (handshake.ChallengeResponse, error) {
	var resp handshake.ChallengeResponse
	err := c.post(addr, "/mesh/v1/challenge", req, &resp)
	return resp, err
}

func (c *probeTestClient) post(addr, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.http.Post("http://"+addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
