package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"meshpaymvp/internal/config"
	"meshpaymvp/internal/daemon"
	"meshpaymvp/internal/discovery"
	"meshpaymvp/internal/gossip"
	"meshpaymvp/internal/ledger"
	"meshpaymvp/internal/network"
	"meshpaymvp/internal/peers"
	"meshpaymvp/internal/proto"
)

// errLedger serves nodes configured without a ledger gateway. They can
// still forward and confirm but never submit or fetch.
type errLedger struct{}

func (errLedger) Submit(ctx context.Context, signedPayload []byte) (string, error) {
	return "", fmt.Errorf("no ledger gateway configured")
}

func (errLedger) FetchBalance(ctx context.Context, accountID string) (int64, int64, error) {
	return 0, 0, fmt.Errorf("no ledger gateway configured")
}

func buildLedger(cfg config.Config) (daemon.Ledger, error) {
	if cfg.Ledger.HorizonURL == "" {
		return errLedger{}, nil
	}
	return ledger.NewClient(cfg.Ledger.HorizonURL, cfg.Ledger.Timeout.Std())
}

// buildProber treats reachability of the ledger gateway as the internet
// probe. Nodes without a gateway are permanently offline forwarders.
func buildProber(cfg config.Config) gossip.Prober {
	url := cfg.Ledger.HorizonURL
	if url == "" {
		return gossip.ProberFunc(func() (bool, float64) { return false, proto.BatteryUnknown })
	}
	client := &http.Client{Timeout: 2 * time.Second}
	return gossip.ProberFunc(func() (bool, float64) {
		req, err := http.NewRequest(http.MethodHead, url, nil)
		if err != nil {
			return false, proto.BatteryUnknown
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, proto.BatteryUnknown
		}
		resp.Body.Close()
		return true, proto.BatteryUnknown
	})
}

type nodeHandle struct {
	runner *daemon.Runner
	mesh   *network.Mesh
	disc   *discovery.Discovery
}

func (h *nodeHandle) close() {
	if h.runner != nil {
		h.runner.Stop()
	}
	if h.disc != nil {
		_ = h.disc.Close()
	}
	if h.mesh != nil {
		_ = h.mesh.Close()
	}
}

// startNode brings up transport, discovery, and the daemon runner. Used by
// the long-running daemon and, briefly, by the standalone pay/balance
// commands.
func startNode(cfg config.Config) (*nodeHandle, error) {
	ldgr, err := buildLedger(cfg)
	if err != nil {
		return nil, err
	}

	var runner *daemon.Runner
	mesh := network.NewMesh(peers.ID(cfg.NodeID), network.Config{ListenAddr: cfg.ListenAddr},
		func(from peers.ID, data []byte) {
			if runner != nil {
				runner.OnReceive(from, data)
			}
		},
		func(id peers.ID, state peers.ConnState) {
			if runner != nil {
				runner.OnPeerStateChange(id, state)
			}
		})

	runner, err = daemon.NewRunner(cfg, daemon.Options{
		Transport: mesh,
		Ledger:    ldgr,
		Prober:    buildProber(cfg),
	})
	if err != nil {
		return nil, err
	}

	if err := mesh.Listen(); err != nil {
		return nil, err
	}
	port := 0
	if addr, ok := mesh.Addr().(*net.UDPAddr); ok {
		port = addr.Port
	}
	disc, err := discovery.Start(peers.ID(cfg.NodeID), port, func(f discovery.Found) {
		mesh.AddPeer(f.ID, f.Addr)
	})
	if err != nil {
		_ = mesh.Close()
		return nil, err
	}

	runner.Start()
	return &nodeHandle{runner: runner, mesh: mesh, disc: disc}, nil
}
