package meshhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/observability"
	"github.com/rohitg00/skillmesh/pkg/peers"
	"github.com/rohitg00/skillmesh/pkg/transport"
)

// ClientOptions tune the unicast transport.
type ClientOptions struct {
	// ConnectTimeout bounds connection establishment per send.
	ConnectTimeout time.Duration
	// RequestTimeout bounds one whole request/response exchange.
	RequestTimeout time.Duration
	// Metrics is optional.
	Metrics *observability.Metrics
}

// Client is the unicast request/response transport. Each Send performs one
// exchange against the peer's mesh endpoint.
type Client struct {
	http           *http.Client
	requestTimeout time.Duration
	metrics        *observability.Metrics
}

func NewClient(opts ClientOptions) *Client {
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = 2 * time.Second
	}
	request := opts.RequestTimeout
	if request <= 0 {
		request = 5 * time.Second
	}
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connect}).DialContext,
				MaxIdleConnsPerHost: 4,
			},
		},
		requestTimeout: request,
		metrics:        opts.Metrics,
	}
}

func (c *Client) Kind() transport.Kind { return transport.KindHTTP }

// Send POSTs the JSON envelope to the peer's mesh message endpoint and
// returns the receiver's DeliveryResult. Connection refused, timeouts, and
// non-success statuses are mapped to a typed transport error, never
// swallowed.
func (c *Client) Send(ctx context.Context, peer peers.Peer, msg *message.Message) (transport.DeliveryResult, error) {
	frame, err := message.EncodeFrame(msg)
	if err != nil {
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrProtocolMismatch, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	url := "http://" + peer.Addr() + "/mesh/v1/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame))
	if err != nil {
		return transport.DeliveryResult{}, transport.NewError("send", peer.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveSend(transport.KindHTTP.String(), false)
		return transport.DeliveryResult{}, transport.NewError("send", peer.ID, err)
	}
	defer resp.Body.Close()

	var result transport.DeliveryResult
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	switch {
	case resp.StatusCode == http.StatusOK && decodeErr == nil:
		c.metrics.ObserveSend(transport.KindHTTP.String(), true)
		return result, nil
	case resp.StatusCode == http.StatusOK:
		c.metrics.ObserveSend(transport.KindHTTP.String(), false)
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrProtocolMismatch,
			fmt.Errorf("decoding delivery result: %w", decodeErr))
	case resp.StatusCode == http.StatusUnauthorized:
		c.metrics.ObserveSend(transport.KindHTTP.String(), false)
		return result, transport.NewErrorKind("send", peer.ID, transport.ErrAuthFailed,
			fmt.Errorf("receiver rejected signature"))
	default:
		c.metrics.ObserveSend(transport.KindHTTP.String(), false)
		return result, transport.NewErrorKind("send", peer.ID, transport.ErrUnavailable,
			fmt.Errorf("status %d", resp.StatusCode))
	}
}
