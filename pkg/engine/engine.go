// Package engine wires every subsystem together into the single Engine
// context threaded through pkg/httpapi, pkg/connection, pkg/admission,
// pkg/routing, and pkg/sync, the role pkg/manager.Manager plays for the
// teacher's cluster control plane.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/meshfed/gatewayd/pkg/admission"
	"github.com/meshfed/gatewayd/pkg/broker"
	"github.com/meshfed/gatewayd/pkg/config"
	"github.com/meshfed/gatewayd/pkg/connection"
	"github.com/meshfed/gatewayd/pkg/kms"
	"github.com/meshfed/gatewayd/pkg/log"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/metrics"
	"github.com/meshfed/gatewayd/pkg/routecache"
	"github.com/meshfed/gatewayd/pkg/routing"
	"github.com/meshfed/gatewayd/pkg/storage"
	"github.com/meshfed/gatewayd/pkg/sync"
	"github.com/meshfed/gatewayd/pkg/transport"
)

// Engine is the fully wired runtime: every subsystem, built once at
// startup and shared by every request-handling goroutine.
type Engine struct {
	Config     *config.Config
	Store      storage.Store
	KMS        *kms.SignerAdapter
	Broker     broker.Broker
	Routes     *routecache.Cache
	Registry   *message.Registry
	Transport  *transport.Transport
	Connection *connection.Manager
	Admission  *admission.Admission
	Router     *routing.Router
	Syncer     *sync.Syncer
	Collector  *metrics.Collector
}

func buildStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.DatabaseDriver {
	case "document":
		return storage.NewDocument(cfg.DataDir)
	default:
		return storage.NewMemory(), nil
	}
}

func buildBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.BrokerDriver {
	case "redis":
		return nil, fmt.Errorf("engine: DG_BROKER_DRIVER=redis requires a QueueBackend to be supplied programmatically")
	default:
		return broker.NewMemory(), nil
	}
}

func buildKMS(cfg *config.Config) (kms.KMS, error) {
	switch cfg.KMSDriver {
	case "vault":
		return nil, fmt.Errorf("engine: DG_KMS_DRIVER=vault requires a SecretBackend to be supplied programmatically")
	default:
		return kms.NewMemory(), nil
	}
}

// New builds every subsystem from cfg using the memory/document/redis/
// vault driver selectors and wires them into an Engine. Background loops
// are not started here; Start does that.
func New(cfg *config.Config) (*Engine, error) {
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	store, err := buildStore(cfg)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return nil, fmt.Errorf("engine: %w", err)
	}
	metrics.RegisterComponent("store", true, "")

	brk, err := buildBroker(cfg)
	if err != nil {
		metrics.RegisterComponent("broker", false, err.Error())
		return nil, fmt.Errorf("engine: %w", err)
	}
	metrics.RegisterComponent("broker", true, "")

	driver, err := buildKMS(cfg)
	if err != nil {
		metrics.RegisterComponent("kms", false, err.Error())
		return nil, fmt.Errorf("engine: %w", err)
	}
	metrics.RegisterComponent("kms", true, "")
	signer := kms.NewSignerAdapter(driver)

	routes := routecache.New()
	registry := message.NewRegistry()
	tr := transport.New(cfg.ProbeTimeout)

	connMgr := connection.New(routes, brk, tr, signer, registry, store, cfg.NodeID)
	admissionCoord := admission.New(store, signer, tr, connMgr, registry, cfg.ChallengeDifficulty, cfg.PublicURL)
	router := routing.New(routes, connMgr, brokerResponseWaiter{brk}, cfg.NodeID)
	syncer := sync.New(store, connMgr, connMgr, cfg.NodeID)
	collector := metrics.NewCollector(store, routes)

	connMgr.SetDispatcher(newMessageDispatcher(router, syncer, brk, registry, tr))

	return &Engine{
		Config:     cfg,
		Store:      store,
		KMS:        signer,
		Broker:     brk,
		Routes:     routes,
		Registry:   registry,
		Transport:  tr,
		Connection: connMgr,
		Admission:  admissionCoord,
		Router:     router,
		Syncer:     syncer,
		Collector:  collector,
	}, nil
}

// brokerResponseWaiter adapts broker.Broker to routing.ResponseWaiter.
type brokerResponseWaiter struct {
	brk broker.Broker
}

func (w brokerResponseWaiter) ResponseStream(ctx context.Context, messageID string, timeout time.Duration) ([]byte, error) {
	return w.brk.ResponseStream(ctx, messageID, timeout)
}

// Start begins background processing (the sync loop and the metrics
// collector). Call once, after any Registry.LoadCatalog calls.
func (e *Engine) Start() {
	e.Syncer.Start()
	e.Collector.Start()
}

// Close stops background loops and releases the store.
func (e *Engine) Close() error {
	e.Syncer.Stop()
	e.Collector.Stop()
	e.Broker.Close()
	return e.Store.Close()
}

// LoadCatalogFile reads a message catalog JSON file from disk and merges
// it into the Registry.
func (e *Engine) LoadCatalogFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("engine: read catalog %s: %w", path, err)
	}
	return e.Registry.LoadCatalog(raw)
}
