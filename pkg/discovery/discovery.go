// Package discovery finds relays on the local network over mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_drawroom._tcp"

// Advertise announces a relay listening on port. Shut the returned server down to withdraw it.
func Advertise(instance string, port int) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, []string{"drawroom"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse collects relay addresses (host:port) that answer within timeout or before the ctx deadline.
func Browse(ctx context.Context, timeout time.Duration) ([]string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	var found []string
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		seen := make(map[string]bool)
		for e := range entries {
			addr := entryAddr(e)
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			found = append(found, addr)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		params.Timeout = time.Until(deadline)
	}
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-collected
	if err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}
	return found, nil
}

func entryAddr(e *mdns.ServiceEntry) string {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return ""
	}
	return net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port))
}

// First returns one relay that answered within timeout.
func First(ctx context.Context, timeout time.Duration) (string, error) {
	addrs, err := Browse(ctx, timeout)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no relay found on the local network within %s", timeout)
	}
	return addrs[0], nil
}
