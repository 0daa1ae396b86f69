// Package discovery announces relays on the local network and finds them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/grandcat/zeroconf"
)

const (
	// RelayService is the mDNS service type relays register under.
	RelayService = "_typewriter-relay._tcp"
	// AgentService is announced by agents serving the UI.
	AgentService = "_typewriter._tcp"
	Domain       = "local."

	pathKey = "path="
)

var ErrNotFound = errors.New("discovery: no relay found")

// Announce registers service on port, with its websocket served at path.
// Shutdown withdraws it.
func Announce(service string, port int, path string) (*zeroconf.Server, error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("typewriter-%s", host),
		service,
		Domain,
		port,
		[]string{"txtv=0", pathKey + path},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", service, err)
	}
	glog.Infof("[discovery]announced %s on port %d\n", service, port)
	return server, nil
}

// RelayURL turns an mDNS entry into a websocket URL.
func RelayURL(entry *zeroconf.ServiceEntry) (string, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return "", false
	}
	path := "/ws"
	for _, txt := range entry.Text {
		if strings.HasPrefix(txt, pathKey) {
			path = strings.TrimPrefix(txt, pathKey)
		}
	}
	return "ws://" + net.JoinHostPort(host, fmt.Sprint(entry.Port)) + path, true
}

// FindRelay browses until the first relay answers or ctx ends.
func FindRelay(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mDNS resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			url, ok := RelayURL(entry)
			if !ok {
				continue
			}
			glog.Infof("[discovery]found %s at %s\n", entry.Instance, url)
			select {
			case found <- url:
			default:
			}
			cancel()
		}
	}(entries)

	if err := resolver.Browse(ctx, RelayService, Domain, entries); err != nil {
		return "", fmt.Errorf("browse %s: %w", RelayService, err)
	}
	select {
	case url := <-found:
		return url, nil
	case <-ctx.Done():
	}
	select {
	case url := <-found:
		return url, nil
	default:
		return "", ErrNotFound
	}
}
