// Package daemon assembles the mount daemon from its parts and runs it.
//
// Construction wires the ledger store, the mount drivers, the process
// registry, the operation lock, token verification and credential
// fetching into the mount service, then hangs the broker dispatcher, the
// reconciler and the status HTTP server off it. Serve owns the lifecycle:
// the startup reconciliation pass runs before the queue opens, and
// shutdown drains the dispatcher before anything else comes down.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/pkg/api"
	"github.com/marmos91/mountd/pkg/broker"
	"github.com/marmos91/mountd/pkg/config"
	"github.com/marmos91/mountd/pkg/creds"
	"github.com/marmos91/mountd/pkg/metrics"
	"github.com/marmos91/mountd/pkg/mount"
	"github.com/marmos91/mountd/pkg/oplock"
	"github.com/marmos91/mountd/pkg/procs"
	"github.com/marmos91/mountd/pkg/service"
	"github.com/marmos91/mountd/pkg/store"
)

// DefaultShutdownTimeout bounds graceful shutdown when the configuration
// does not.
const DefaultShutdownTimeout = 30 * time.Second

// Daemon is the assembled mount daemon.
type Daemon struct {
	cfg       *config.Config
	version   string
	startedAt time.Time

	store      *store.Store
	registry   *procs.Registry
	reconciler *service.Reconciler
	dispatcher *broker.Dispatcher
	status     *api.Server

	// serveOnce ensures Serve() runs at most once.
	serveOnce sync.Once
}

// New builds a daemon from configuration. Everything that can be wrong
// with the configuration surfaces here, before the daemon commits to
// running: an unreachable database, a malformed broker URL, a missing
// auth secret.
func New(cfg *config.Config, version string) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a configuration")
	}
	nodeID := cfg.Node.ID
	if nodeID == "" {
		return nil, errors.New("node id is required; set node.id or MOUNTD_NODE_ID")
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	registry, err := procs.NewRegistry(cfg.Mount.PIDDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialize process registry: %w", err)
	}

	drivers := BuildDrivers(&cfg.Mount, registry)

	lock, err := oplock.New(cfg.Lock.Dir, cfg.Lock.Timeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialize operation lock: %w", err)
	}

	verifier, err := buildVerifier(&cfg.Auth)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	source := creds.NewHTTPSource(creds.HTTPConfig{
		Timeout:            cfg.Auth.SecretStoreTimeout,
		InsecureSkipVerify: cfg.Auth.SecretStoreSkipVerify,
	})

	var ops *metrics.OpsMetrics
	if cfg.Metrics.Enabled {
		ops = metrics.New(nil)
	}

	svc, err := service.New(service.Options{
		Store:    st,
		Drivers:  drivers,
		Verifier: verifier,
		Source:   source,
		Lock:     lock,
		NodeID:   nodeID,
		Metrics:  ops,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialize mount service: %w", err)
	}

	reconciler, err := service.NewReconciler(service.ReconcilerOptions{
		Store:        st,
		Drivers:      drivers,
		Lock:         lock,
		NodeID:       nodeID,
		Registry:     registry,
		UserFSBinary: cfg.Mount.UserFSBinary,
		Interval:     cfg.Reconcile.Interval,
		Metrics:      ops,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialize reconciler: %w", err)
	}

	dispatcher, err := broker.NewDispatcher(broker.Config{
		URL:         cfg.Broker.URL,
		QueuePrefix: cfg.Broker.QueuePrefix,
		NodeID:      nodeID,
	}, svc, ops)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialize dispatcher: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		version:    version,
		startedAt:  time.Now(),
		store:      st,
		registry:   registry,
		reconciler: reconciler,
		dispatcher: dispatcher,
	}

	if cfg.API.IsEnabled() {
		deps := api.Deps{
			Health:    st,
			Reporter:  reconciler,
			NodeID:    nodeID,
			Version:   version,
			Queue:     dispatcher.Queue(),
			StartedAt: d.startedAt,
		}
		if cfg.Metrics.Enabled {
			deps.Metrics = prometheus.DefaultGatherer
		}
		d.status = api.NewServer(cfg.API, deps)
	}

	return d, nil
}

// BuildDrivers assembles the driver set for this node. The user-fs driver
// exists only when a binary is configured; nodes without one simply reject
// user-fs targets. The CLI reuses it for offline reconciliation.
func BuildDrivers(cfg *config.MountConfig, registry *procs.Registry) *mount.Drivers {
	netfs := mount.NewNetFSDriver(mount.NetFSConfig{
		FSType:       cfg.FSType,
		RootwrapPath: cfg.RootwrapPath,
		RootwrapConf: cfg.RootwrapConf,
	})

	var userfs mount.Driver
	if cfg.UserFSBinary != "" {
		userfs = mount.NewUserFSDriver(mount.UserFSConfig{
			Binary:       cfg.UserFSBinary,
			LogConfig:    cfg.UserFSLogConfig,
			TermWait:     cfg.TermWait,
			OutputBuffer: cfg.OutputBuffer,
			RootwrapPath: cfg.RootwrapPath,
			RootwrapConf: cfg.RootwrapConf,
		}, registry)
	}

	return mount.NewDrivers(netfs, userfs)
}

// buildVerifier picks the token verifier for the auth configuration.
// Running without a secret requires auth.allow_insecure; silently
// accepting every token would be far worse than refusing to start.
func buildVerifier(cfg *config.AuthConfig) (creds.TokenVerifier, error) {
	secret := cfg.GetSecret()
	if secret == "" {
		if cfg.AllowInsecure {
			logger.Warn("request token verification is disabled (auth.allow_insecure)")
			return creds.AllowAll{}, nil
		}
		return nil, fmt.Errorf("no auth secret configured; set %s or auth.secret, or enable auth.allow_insecure", config.EnvAuthSecret)
	}
	return creds.NewJWTVerifier(secret, cfg.Issuer)
}

// Queue returns the request queue name this daemon consumes.
func (d *Daemon) Queue() string {
	return d.dispatcher.Queue()
}

// Serve runs the daemon until ctx is canceled or a component fails
// fatally. It can be called at most once.
func (d *Daemon) Serve(ctx context.Context) error {
	var err error
	d.serveOnce.Do(func() {
		err = d.serve(ctx)
	})
	return err
}

func (d *Daemon) serve(ctx context.Context) error {
	logger.Info("starting mount daemon",
		"node_id", d.cfg.Node.ID,
		"version", d.version,
		"queue", d.dispatcher.Queue())

	// 1. Converge local state before the queue opens. A backlogged request
	// must not race the adoption of surviving children or the cleanup of
	// stale mounts. Failure is not fatal; whatever could not be healed
	// shows up in Status.
	if err := d.reconciler.Reconcile(ctx); err != nil {
		logger.Error("startup reconciliation failed", "error", err)
	}

	// 2. Connect to the broker. Unlike reconciliation this is fatal: a
	// daemon that cannot consume its queue serves nobody.
	if err := d.dispatcher.Connect(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Background loops: the reaper sweeping exited children and the
	// periodic reconciler.
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		d.registry.StartReaper(runCtx)
	}()
	go func() {
		defer background.Done()
		d.reconciler.Run(runCtx)
	}()

	// 4. The dispatcher and the status server.
	dispatcherDone := make(chan error, 1)
	go func() {
		dispatcherDone <- d.dispatcher.Run(runCtx)
	}()

	statusDone := make(chan error, 1)
	if d.status != nil {
		go func() {
			statusDone <- d.status.Start(runCtx)
		}()
	}

	logger.Info("mount daemon ready",
		"node_id", d.cfg.Node.ID,
		"queue", d.dispatcher.Queue())

	// 5. Block until shutdown is requested or a component dies.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested", "reason", ctx.Err())

	case err := <-dispatcherDone:
		dispatcherDone = nil
		if err != nil {
			logger.Error("dispatcher failed", "error", err)
			runErr = fmt.Errorf("dispatcher: %w", err)
		}

	case err := <-statusDone:
		statusDone = nil
		if err != nil {
			logger.Error("status server failed", "error", err)
			runErr = fmt.Errorf("status server: %w", err)
		}
	}

	d.shutdown(cancel, dispatcherDone, statusDone, &background)
	logger.Info("mount daemon stopped")
	return runErr
}

// shutdown stops everything in dependency order: the dispatcher drains
// first so an operation in flight finishes and acknowledges, then the
// status server, then the store. User-fs children are deliberately left
// running; the next start adopts them back.
func (d *Daemon) shutdown(cancel context.CancelFunc, dispatcherDone, statusDone <-chan error, background *sync.WaitGroup) {
	cancel()

	timeout := d.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if dispatcherDone != nil {
		select {
		case err := <-dispatcherDone:
			if err != nil {
				logger.Warn("dispatcher stopped with error", "error", err)
			}
		case <-deadline.C:
			logger.Warn("dispatcher did not drain before the shutdown timeout",
				"timeout", timeout)
		}
	}
	if err := d.dispatcher.Close(); err != nil {
		logger.Warn("broker close failed", "error", err)
	}

	// The status server shuts itself down on context cancellation; give
	// it its own bounded wait rather than the remains of the deadline.
	if d.status != nil && statusDone != nil {
		select {
		case err := <-statusDone:
			if err != nil {
				logger.Warn("status server stopped with error", "error", err)
			}
		case <-time.After(10 * time.Second):
			logger.Warn("status server did not stop in time")
		}
	}

	background.Wait()

	if err := d.store.Close(); err != nil {
		logger.Warn("store close failed", "error", err)
	}
}
