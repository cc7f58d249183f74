// Package node wires the header store, the peer connector and the sync
// session into one runnable service.
package node

import (
	"net/http"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/libs/service"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfg "github.com/bitharbor/harbor-node/config"
	"github.com/bitharbor/harbor-node/headersync"
	"github.com/bitharbor/harbor-node/libs/stopsignal"
	"github.com/bitharbor/harbor-node/p2p"
	"github.com/bitharbor/harbor-node/store"
)

// Node is the harbor node: it syncs block headers from a single peer into
// the local header store, then trips the stop signal with the result.
type Node struct {
	service.BaseService

	config     *cfg.Config
	stopSignal *stopsignal.Signal

	db          dbm.DB
	headerStore *store.HeaderStore
	session     *headersync.Session

	prometheusSrv *http.Server
}

// DBContext specifies config information for loading a new DB.
type DBContext struct {
	ID     string
	Config *cfg.Config
}

// DBProvider takes a DBContext and returns an instantiated DB.
type DBProvider func(*DBContext) (dbm.DB, error)

// DefaultDBProvider returns a database using the DBBackend and DBDir
// specified in the Config.
func DefaultDBProvider(ctx *DBContext) (dbm.DB, error) {
	dbType := dbm.BackendType(ctx.Config.DBBackend)
	return dbm.NewDB(ctx.ID, dbType, ctx.Config.DBDir())
}

// NewNode returns a new, unstarted node. The stop signal is shared with the
// caller: tripping it suspends the sync session, and the node trips it
// itself when the session ends.
func NewNode(
	config *cfg.Config,
	dbProvider DBProvider,
	stopSignal *stopsignal.Signal,
	logger log.Logger,
) (*Node, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	params, err := config.ChainParams()
	if err != nil {
		return nil, err
	}

	db, err := dbProvider(&DBContext{ID: "headers", Config: config})
	if err != nil {
		return nil, errors.Wrap(err, "opening header database")
	}

	headerStore, err := store.NewHeaderStore(db)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "opening header store")
	}

	checkpoints, err := config.Sync.CheckpointsFor(params)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	connector := p2p.NewTCPConnector(config.P2P.PeerAddress, p2p.ConnectorConfig{
		Magic:           params.Net,
		ProtocolVersion: config.P2P.ProtocolVersion,
		DialTimeout:     config.P2P.DialTimeout,
	}, logger.With("module", "p2p"))

	metrics := headersync.NopMetrics()
	if config.Instrumentation.Prometheus {
		metrics = headersync.PrometheusMetrics(config.Instrumentation.Namespace,
			"network", config.Network)
	}

	session := headersync.NewSession(
		connector,
		headersync.NewHeaderQueue(),
		headerStore,
		checkpoints,
		stopSignal,
		headersync.WithMetrics(metrics),
		headersync.WithProtocolVersion(config.P2P.ProtocolVersion),
		headersync.WithHandshakeTimeout(config.P2P.HandshakeTimeout),
		headersync.WithPingInterval(config.P2P.PingInterval),
	)
	session.SetLogger(logger.With("module", "headersync"))

	node := &Node{
		config:      config,
		stopSignal:  stopSignal,
		db:          db,
		headerStore: headerStore,
		session:     session,
	}
	node.BaseService = *service.NewBaseService(logger, "Node", node)
	return node, nil
}

// OnStart implements service.Service.
func (n *Node) OnStart() error {
	if n.config.Instrumentation.Prometheus {
		n.prometheusSrv = n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
	}

	return n.session.Sync(func(err error) {
		if err != nil {
			n.Logger.Error("Header sync failed", "err", err)
		}
		n.stopSignal.Trip(err)
	})
}

// OnStop implements service.Service.
func (n *Node) OnStop() {
	if err := n.session.Stop(); err != nil {
		n.Logger.Error("Error closing sync session", "err", err)
	}

	if n.prometheusSrv != nil {
		if err := n.prometheusSrv.Close(); err != nil {
			n.Logger.Error("Prometheus HTTP server Close", "err", err)
		}
	}

	if err := n.db.Close(); err != nil {
		n.Logger.Error("Error closing header database", "err", err)
	}
}

// HeaderStore returns the node's header store.
func (n *Node) HeaderStore() *store.HeaderStore {
	return n.headerStore
}

// startPrometheusServer starts a Prometheus HTTP server, listening for
// metrics collectors on addr.
func (n *Node) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			n.Logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}
