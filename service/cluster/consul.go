package cluster

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulSource backs membership with Consul's health catalog. Liveness is
// TTL-based active reporting rather than HTTP checks.
type ConsulSource struct {
	cli     *api.Client
	service string
}

func NewConsulSource(addr, service string) (*ConsulSource, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ConsulSource{cli: cli, service: service}, nil
}

func (s *ConsulSource) List(ctx context.Context) ([]Member, error) {
	entries, _, err := s.cli.Health().Service(s.service, "", true,
		(&api.QueryOptions{RequireConsistent: true}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return entriesToMembers(entries), nil
}

func (s *ConsulSource) Announce(_ context.Context, m Member) error {
	host, port := splitAddr(m.Addr)
	check := &api.AgentServiceCheck{
		TTL:                            "10s", // report interval must stay below this
		DeregisterCriticalServiceAfter: "1m",
	}
	reg := &api.AgentServiceRegistration{
		Name:    s.service,
		ID:      m.ID,
		Address: host,
		Port:    port,
		Meta:    m.Meta,
		Check:   check,
	}
	return s.cli.Agent().ServiceRegister(reg)
}

func (s *ConsulSource) SetAddr(ctx context.Context, memberID, addr string) error {
	// Consul has no partial update; re-register with the new address.
	return s.Announce(ctx, Member{ID: memberID, Addr: addr})
}

func (s *ConsulSource) Deregister(memberID string) error {
	return s.cli.Agent().ServiceDeregister(memberID)
}

// UpdateTTL is the active liveness report.
// checkID is "service:<member-id>"; status is "pass" | "warn" | "fail".
func (s *ConsulSource) UpdateTTL(checkID, output, status string) error {
	return s.cli.Agent().UpdateTTL(checkID, output, status)
}

func (s *ConsulSource) Watch(_ context.Context) (Watcher, error) {
	return &consulWatcher{s: s}, nil
}

func (s *ConsulSource) Close() error { return nil }

type consulWatcher struct {
	s       *ConsulSource
	lastIdx uint64
}

func (w *consulWatcher) Next() ([]Member, error) {
	q := &api.QueryOptions{WaitTime: 10 * time.Minute}
	if w.lastIdx != 0 {
		q.WaitIndex = w.lastIdx
	}
	entries, meta, err := w.s.cli.Health().Service(w.s.service, "", true, q)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		w.lastIdx = meta.LastIndex
	}
	return entriesToMembers(entries), nil
}

func (w *consulWatcher) Stop() error { return nil }

func entriesToMembers(entries []*api.ServiceEntry) []Member {
	out := make([]Member, 0, len(entries))
	for _, e := range entries {
		out = append(out, Member{
			ID:   e.Service.ID,
			Addr: net.JoinHostPort(e.Service.Address, strconv.Itoa(e.Service.Port)),
			Meta: e.Service.Meta,
		})
	}
	return out
}

func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
