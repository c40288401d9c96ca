// Package discovery announces this node over mDNS and browses for other
// nodes on the local network, feeding the transport's peer table. Instance
// name is the node ID so discovery and message attribution agree.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/betamos/zeroconf"

	"meshpaymvp/internal/debuglog"
	"meshpaymvp/internal/peers"
)

const ServiceType = "_meshpay._udp"

// Found is one discovered node: its ID and a dialable QUIC address.
type Found struct {
	ID   peers.ID
	Addr string
}

type Discovery struct {
	client *zeroconf.Client
	self   peers.ID
}

// Start publishes this node on port and browses for the rest of the mesh.
// Each discovered node is handed to onFound; our own announcement is
// filtered out.
func Start(self peers.ID, port int, onFound func(Found)) (*Discovery, error) {
	if self == "" {
		return nil, fmt.Errorf("missing node id")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("bad port %d", port)
	}
	svcType := zeroconf.NewType(ServiceType)
	service := zeroconf.NewService(svcType, string(self), uint16(port))

	client, err := zeroconf.New().
		Publish(service).
		Browse(func(e zeroconf.Event) {
			handleEvent(e, self, onFound)
		}, svcType).
		Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	return &Discovery{client: client, self: self}, nil
}

// Browse looks for mesh nodes without announcing one. Used by tooling
// that only wants to see the neighborhood.
func Browse(self peers.ID, onFound func(Found)) (*Discovery, error) {
	svcType := zeroconf.NewType(ServiceType)
	client, err := zeroconf.New().
		Browse(func(e zeroconf.Event) {
			handleEvent(e, self, onFound)
		}, svcType).
		Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	return &Discovery{client: client, self: self}, nil
}

func handleEvent(e zeroconf.Event, self peers.ID, onFound func(Found)) {
	if peers.ID(e.Name) == self {
		return
	}
	addr := pickAddr(e)
	if addr == "" {
		return
	}
	debuglog.Debugf("discovery: found %s at %s", e.Name, addr)
	if onFound != nil {
		onFound(Found{ID: peers.ID(e.Name), Addr: addr})
	}
}

// pickAddr joins the first usable address with the announced port,
// preferring IPv4.
func pickAddr(e zeroconf.Event) string {
	var addrs []string
	for _, a := range e.Addrs {
		if a.IsValid() {
			addrs = append(addrs, net.JoinHostPort(a.String(), strconv.Itoa(int(e.Port))))
		}
	}
	if len(addrs) == 0 {
		return ""
	}
	for _, a := range addrs {
		if strings.Count(a, ":") == 1 {
			return a
		}
	}
	return addrs[0]
}

func (d *Discovery) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
