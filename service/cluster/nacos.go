package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

const nacosGroup = "DEFAULT_GROUP"

// NacosSource backs membership with a Nacos naming service.
type NacosSource struct {
	cli     naming_client.INamingClient
	service string
}

type NacosConf struct {
	Host      string
	Port      uint64
	Namespace string
	Username  string
	Password  string
}

func NewNacosSource(conf NacosConf, service string) (*NacosSource, error) {
	serverConfigs := []constant.ServerConfig{
		*constant.NewServerConfig(conf.Host, conf.Port),
	}
	clientConfig := *constant.NewClientConfig(
		constant.WithNamespaceId(conf.Namespace),
		constant.WithTimeoutMs(5000),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithUsername(conf.Username),
		constant.WithPassword(conf.Password),
	)
	cli, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("create naming client: %w", err)
	}
	return &NacosSource{cli: cli, service: service}, nil
}

func (s *NacosSource) List(_ context.Context) ([]Member, error) {
	instances, err := s.cli.SelectInstances(vo.SelectInstancesParam{
		ServiceName: s.service,
		GroupName:   nacosGroup,
		HealthyOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return instancesToMembers(instances), nil
}

func (s *NacosSource) Announce(_ context.Context, m Member) error {
	host, port := splitAddr(m.Addr)
	meta := map[string]string{"member_id": m.ID}
	for k, v := range m.Meta {
		meta[k] = v
	}
	ok, err := s.cli.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          host,
		Port:        uint64(port),
		ServiceName: s.service,
		GroupName:   nacosGroup,
		ClusterName: "DEFAULT",
		Ephemeral:   true,
		Enable:      true,
		Healthy:     true,
		Weight:      1,
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("register failed: returned false")
	}
	return nil
}

func (s *NacosSource) SetAddr(ctx context.Context, memberID, addr string) error {
	return s.Announce(ctx, Member{ID: memberID, Addr: addr})
}

func (s *NacosSource) Watch(_ context.Context) (Watcher, error) {
	ch := make(chan []Member, 8)
	err := s.cli.Subscribe(&vo.SubscribeParam{
		ServiceName: s.service,
		GroupName:   nacosGroup,
		SubscribeCallback: func(instances []model.Instance, err error) {
			if err != nil {
				return
			}
			select {
			case ch <- instancesToMembers(instances):
			default:
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &nacosWatcher{s: s, ch: ch}, nil
}

func (s *NacosSource) Close() error {
	s.cli.CloseClient()
	return nil
}

type nacosWatcher struct {
	s  *NacosSource
	ch chan []Member
}

func (w *nacosWatcher) Next() ([]Member, error) {
	members, ok := <-w.ch
	if !ok {
		return nil, context.Canceled
	}
	return members, nil
}

func (w *nacosWatcher) Stop() error {
	return w.s.cli.Unsubscribe(&vo.SubscribeParam{
		ServiceName: w.s.service,
		GroupName:   nacosGroup,
	})
}

func instancesToMembers(instances []model.Instance) []Member {
	out := make([]Member, 0, len(instances))
	for _, inst := range instances {
		out = append(out, memberFromInstance(inst.Ip, inst.Port, inst.Metadata))
	}
	return out
}

func memberFromInstance(ip string, port uint64, meta map[string]string) Member {
	id := meta["member_id"]
	addr := net.JoinHostPort(ip, strconv.FormatUint(port, 10))
	if id == "" {
		id = addr
	}
	return Member{ID: id, Addr: addr, Meta: meta}
}
