// skillmesh-ctl is a one-shot operator tool: probe a node, run a discovery
// pass, or deliver a single message. Output is JSON, one document per run.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/config"
	"github.com/rohitg00/skillmesh/pkg/discovery"
	"github.com/rohitg00/skillmesh/pkg/identity"
	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/peers"
	"github.com/rohitg00/skillmesh/pkg/transport/meshhttp"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	discover := flag.String("discover", "", "run one discovery pass: local|secure|overlay")
	probe := flag.String("probe", "", "probe one node at host:port")
	send := flag.String("send", "", "deliver a message to host:port")
	msgType := flag.String("type", "ping", "message type for -send")
	payload := flag.String("payload", "{}", "JSON payload for -send")
	recipient := flag.String("to", "", "recipient node id for -send (empty means any)")
	timeout := flag.Duration("timeout", 5*time.Second, "overall deadline")
	flag.Parse()

	// ctl is quiet unless something goes wrong.
	zap.ReplaceGlobals(zap.NewNop())

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch {
	case *probe != "":
		runProbe(ctx, cfg, *probe)
	case *discover != "":
		runDiscover(ctx, cfg, *discover)
	case *send != "":
		runSend(ctx, cfg, *send, *msgType, *recipient, json.RawMessage(*payload))
	default:
		fatalf("one of -probe, -discover, -send is required")
	}
}

func runProbe(ctx context.Context, cfg *config.Config, addr string) {
	timeout := time.Duration(cfg.Discovery.ProbeTimeoutMS) * time.Millisecond
	resp, err := discovery.NewProber(timeout).Probe(ctx, addr)
	if err != nil {
		fatalf("probe %s: %v", addr, err)
	}
	printJSON(resp)
}

func runDiscover(ctx context.Context, cfg *config.Config, strategy string) {
	reg := peers.NewRegistry(peers.RegistryOptions{})
	defer reg.Close()
	opts := discovery.OptionsFromConfig(cfg.Discovery)

	var (
		found []peers.Peer
		err   error
	)
	switch strategy {
	case "local":
		found, err = discovery.NewLocal(opts, reg, nil).DiscoverOnce(ctx)
	case "secure":
		found, err = discovery.NewSecureLocal(opts, reg, nil, cfg.Discovery.AllowedKeys, nil).DiscoverOnce(ctx)
	case "overlay":
		found, err = discovery.NewOverlay(cfg.Overlay, cfg.Discovery.Port, reg).DiscoverOnce(ctx)
	default:
		fatalf("unknown discovery strategy %q", strategy)
	}
	if err != nil {
		fatalf("discover %s: %v", strategy, err)
	}
	printJSON(found)
}

func runSend(ctx context.Context, cfg *config.Config, addr, typ, to string, payload json.RawMessage) {
	// Ephemeral identity for ctl.
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fatalf("gen key: %v", err)
	}
	sender := identity.NodeIDFromPubKey(pub)

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		fatalf("bad address %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fatalf("bad port in %q: %v", addr, err)
	}
	target := peers.New(host, port, peers.SourceLocal)

	client := meshhttp.NewClient(meshhttp.ClientOptions{
		ConnectTimeout: time.Duration(cfg.Mesh.ConnectTimeoutMS) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.Mesh.RequestTimeoutMS) * time.Millisecond,
	})
	msg := message.New(typ, payload, sender, to)
	res, err := client.Send(ctx, target, msg)
	if err != nil {
		fatalf("send to %s: %v", addr, err)
	}
	printJSON(struct {
		MessageID string `json:"message_id"`
		Accepted  bool   `json:"accepted"`
		Reason    string `json:"reason,omitempty"`
	}{msg.ID, res.Accepted, res.Reason})
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
