// File: internal/discovery/mdns.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// mDNS advertisement of listeners and browsing for other instances.

package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the service type listeners are announced under.
	DefaultService = "_http._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultBrowseTimeout bounds Browse when the context has no deadline.
	DefaultBrowseTimeout = 3 * time.Second
)

// Advertisement describes one announced listener.
type Advertisement struct {
	Instance string
	Service  string
	Port     int
	Meta     map[string]string
}

// TXT renders Meta as sorted key=value records.
func (a Advertisement) TXT() []string {
	keys := make([]string, 0, len(a.Meta))
	for k := range a.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+a.Meta[k])
	}
	return out
}

// Advertiser keeps a registration alive until Shutdown.
type Advertiser struct {
	srv *zeroconf.Server
}

// Advertise registers a on all multicast interfaces.
func Advertise(a Advertisement) (*Advertiser, error) {
	if a.Instance == "" || a.Port <= 0 {
		return nil, fmt.Errorf("mdns: instance and port are required")
	}
	service := a.Service
	if service == "" {
		service = DefaultService
	}
	srv, err := zeroconf.Register(a.Instance, service, Domain, a.Port, a.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: register %s: %w", a.Instance, err)
	}
	return &Advertiser{srv: srv}, nil
}

// Shutdown withdraws the registration.
func (ad *Advertiser) Shutdown() {
	if ad != nil && ad.srv != nil {
		ad.srv.Shutdown()
	}
}

// Peer is an instance found by Browse.
type Peer struct {
	Instance string
	Host     string
	Addr     string // first IPv4 address
	Port     int
	Meta     map[string]string
}

// Spec returns a tcp:// address spec for the peer.
func (p Peer) Spec() string {
	return fmt.Sprintf("tcp://%s:%d", p.Addr, p.Port)
}

// parseEntry converts a resolver entry. Entries without an IPv4 address
// are skipped since the transport is IPv4 only.
func parseEntry(e *zeroconf.ServiceEntry) (Peer, bool) {
	if e == nil || len(e.AddrIPv4) == 0 || e.Port <= 0 {
		return Peer{}, false
	}
	meta := make(map[string]string, len(e.Text))
	for _, txt := range e.Text {
		k, v, _ := strings.Cut(txt, "=")
		if k != "" {
			meta[k] = v
		}
	}
	return Peer{
		Instance: e.Instance,
		Host:     e.HostName,
		Addr:     e.AddrIPv4[0].String(),
		Port:     e.Port,
		Meta:     meta,
	}, true
}

// Browse collects instances of service until ctx ends. Without a deadline
// on ctx it waits DefaultBrowseTimeout.
func Browse(ctx context.Context, service string) ([]Peer, error) {
	if service == "" {
		service = DefaultService
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	collected := make(chan []Peer, 1)
	go func() {
		var peers []Peer
		defer func() { collected <- peers }()
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if p, ok := parseEntry(e); ok {
					peers = append(peers, p)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := resolver.Browse(ctx, service, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns: browse %s: %w", service, err)
	}
	<-ctx.Done()
	return <-collected, nil
}
