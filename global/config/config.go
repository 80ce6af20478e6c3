package config

import (
	"time"

	"PGate/service/cluster"
	"PGate/service/events"
	"PGate/service/gateway"
	"PGate/service/storage"
	"PGate/tools/ids"
)

const (
	RegistryStatic = "static"
	RegistryConsul = "consul"
	RegistryNacos  = "nacos"

	EventsNone  = "none"
	EventsKafka = "kafka"
	EventsNats  = "nats"
)

type ConsulConf struct {
	Addr    string
	Service string
}

type MongoConf struct {
	Uri         string
	Database    string
	Username    string
	Password    string
	MaxPoolSize int
}

type EventsConf struct {
	Backend string // none | kafka | nats
	Kafka   events.KafkaConf
	Nats    events.NatsConf
}

// AppConfig is one gateway node's full configuration.
type AppConfig struct {
	NodeID   string
	BindAddr string // listen address
	Addr     string // advertised address, what redirects point at

	SlotCount     int
	SingleSession bool
	JWTSecret     string
	SnowflakeNode int64

	Server    gateway.ServerConf
	Admission gateway.AdmissionConf
	Reasons   gateway.ReasonCacheConf
	// MaxReasonQueries bounds concurrent side-channel reads.
	MaxReasonQueries int

	Registry string // static | consul | nacos
	// StaticMembers seeds the membership when Registry is static.
	StaticMembers []cluster.Member
	Consul        ConsulConf
	Nacos         cluster.NacosConf

	Mongo    MongoConf
	Presence storage.PresenceConf
	Events   EventsConf
}

// Global is the default single-node development profile; production
// deployments overwrite the registry/store endpoints before Boot.
var Global = AppConfig{
	NodeID:   "gateway_01",
	BindAddr: ":8080",
	Addr:     "127.0.0.1:8080",

	SlotCount:     cluster.DefaultSlotCount,
	SingleSession: false,
	SnowflakeNode: 1,

	Server: gateway.ServerConf{
		PushSessionInfo: true,
	},
	Admission: gateway.AdmissionConf{
		AuthEnabled: true,
	},
	Reasons: gateway.ReasonCacheConf{
		Enabled:       true,
		Degraded:      []gateway.DeviceType{gateway.DeviceBrowser},
		MaxSize:       1024,
		LoginTTL:      60 * time.Second,
		DisconnectTTL: 60 * time.Second,
	},
	MaxReasonQueries: 64,

	Registry: RegistryStatic,
	Consul:   ConsulConf{Addr: "127.0.0.1:8500", Service: "pgate"},
	Nacos:    cluster.NacosConf{Host: "127.0.0.1", Port: 8848},

	Mongo: MongoConf{
		Uri:      "mongodb://localhost:27017",
		Database: "pgate",
	},
	Presence: storage.PresenceConf{
		Addr: "127.0.0.1:6379",
		TTL:  5 * time.Minute,
	},
	Events: EventsConf{
		Backend: EventsNone,
		Kafka:   events.KafkaConf{Brokers: []string{"127.0.0.1:9092"}},
		Nats:    events.NatsConf{URL: "nats://127.0.0.1:4222"},
	},
}

// ConfigIds seeds the snowflake node id; call once at boot.
func ConfigIds(c *AppConfig) {
	ids.SetNodeID(c.SnowflakeNode)
}

func (c *AppConfig) Policy() gateway.Policy {
	if c.SingleSession {
		return gateway.SingleSessionPolicy()
	}
	return gateway.Policy{}
}
