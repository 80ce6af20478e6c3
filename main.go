package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	config "PGate/global/config"
	"PGate/logger"
	"PGate/middleware"
	"PGate/module/user"
	"PGate/service/cluster"
	"PGate/service/events"
	"PGate/service/gateway"
	"PGate/service/storage"
	"PGate/tools/safe"
	"PGate/tools/security"
)

func main() {
	cfg := config.Global
	if v := os.Getenv("PGATE_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("PGATE_BIND"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("PGATE_ADDR"); v != "" {
		cfg.Addr = v
	}
	config.ConfigIds(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := gateway.NewNodeState()

	// ===== Membership =====
	view := cluster.NewView(cfg.NodeID, cluster.NewSlotRing(cfg.SlotCount))
	source, err := buildSource(&cfg)
	if err != nil {
		logger.Errorf("[boot] membership source: %v", err)
		os.Exit(1)
	}
	local := cluster.Member{ID: cfg.NodeID, Addr: cfg.Addr}
	if err := source.Announce(ctx, local); err != nil {
		logger.Errorf("[boot] announce: %v", err)
		os.Exit(1)
	}

	// ===== Accounts and authentication =====
	store := buildUserStore(ctx, &cfg)
	chain := gateway.NewChain(gateway.NewPasswordAuthenticator(store))
	if cfg.JWTSecret != "" {
		chain.Append(gateway.NewTokenAuthenticator(security.DefaultOptions([]byte(cfg.JWTSecret))))
	}

	// ===== Gateway core =====
	registry := gateway.NewSessionRegistry(cfg.Policy())
	reasons := gateway.NewReasonCache(cfg.Reasons)
	registry.AddOfflineListener(reasons.TrackClose)
	admission := gateway.NewAdmission(cfg.Admission, node, view, registry, store, chain, reasons)

	// membership changes hand moved slots off with a redirect close
	view.Notify(func(*cluster.Snapshot) { admission.Rebalance() })
	safe.Go(func() {
		// member overflow is fatal configuration: stop admitting
		if rerr := view.Run(ctx, source); rerr != nil && ctx.Err() == nil {
			logger.Errorf("[boot] membership loop: %v", rerr)
			node.Deactivate()
		}
	})

	disp := gateway.NewDispatcher()
	disp.Register(gateway.EchoHandler{})
	disp.Register(gateway.SessionQueryHandler{})

	srv := gateway.NewServer(cfg.Server, admission, registry, disp, view)

	// ===== Presence and events =====
	if cfg.Presence.Addr != "" {
		cfg.Presence.NodeAddr = cfg.Addr
		presence, perr := storage.NewPresenceStore(cfg.Presence)
		if perr != nil {
			logger.Errorf("[boot] presence store: %v", perr)
			os.Exit(1)
		}
		defer presence.Close()
		registry.AddOnlineListener(presence.TrackOnline)
		registry.AddOfflineListener(presence.TrackOffline)
	}
	if producer := buildProducer(&cfg); producer != nil {
		defer producer.Close()
		events.NewBridge(producer).Bind(registry)
	}

	// ===== HTTP =====
	r := gin.Default()
	r.Use(middleware.Cors())
	srv.Routes(r)
	gateway.NewReasonAPI(reasons, cfg.MaxReasonQueries).Routes(r)

	safe.Go(func() {
		if rerr := r.Run(cfg.BindAddr); rerr != nil {
			logger.Errorf("[boot] http server: %v", rerr)
			stop()
		}
	})
	logger.Infof("[boot] node=%s serving on %s (advertised %s)", cfg.NodeID, cfg.BindAddr, cfg.Addr)

	<-ctx.Done()
	node.Deactivate()
	registry.CloseAll(gateway.CloseInfo{Code: gateway.CloseNormal, Reason: "shutting down"})
	_ = source.Close()
	logger.Infof("[boot] node=%s stopped", cfg.NodeID)
}

func buildSource(cfg *config.AppConfig) (cluster.MembershipSource, error) {
	switch cfg.Registry {
	case config.RegistryConsul:
		return cluster.NewConsulSource(cfg.Consul.Addr, cfg.Consul.Service)
	case config.RegistryNacos:
		return cluster.NewNacosSource(cfg.Nacos, "pgate")
	default:
		members := append([]cluster.Member{}, cfg.StaticMembers...)
		return cluster.NewStaticSource(members...), nil
	}
}

func buildUserStore(ctx context.Context, cfg *config.AppConfig) user.Store {
	if cfg.Mongo.Uri == "" {
		logger.Warnf("[boot] no mongo uri, using in-memory account store")
		return user.NewMemoryStore()
	}
	store, err := user.NewMongoStore(ctx, &user.MongoConfig{
		Uri:         cfg.Mongo.Uri,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
	})
	if err != nil {
		logger.Warnf("[boot] mongo unavailable (%v), using in-memory account store", err)
		return user.NewMemoryStore()
	}
	return store
}

func buildProducer(cfg *config.AppConfig) events.Producer {
	switch cfg.Events.Backend {
	case config.EventsKafka:
		p, err := events.NewKafkaProducer(cfg.Events.Kafka)
		if err != nil {
			logger.Errorf("[boot] kafka producer: %v", err)
			return nil
		}
		return p
	case config.EventsNats:
		p, err := events.NewNatsProducer(cfg.Events.Nats)
		if err != nil {
			logger.Errorf("[boot] nats producer: %v", err)
			return nil
		}
		return p
	default:
		return nil
	}
}
