// Package vm hosts the VM runtime: a compute thread pool and a network
// thread pool, one reactor pool, a TCP
// acceptor, orderly signal-driven shutdown, and the node/port registry
// addressed messages are delivered through.
package vm

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/purpleidea/ultravm/graph"
	"github.com/purpleidea/ultravm/message"
	"github.com/purpleidea/ultravm/metrics"
	"github.com/purpleidea/ultravm/pool"
)

// metricsRefreshInterval controls how often Start's background loop samples
// pool occupancy into Metrics.
const metricsRefreshInterval = 2 * time.Second

// Config configures a VM instance, following the CLI flags of cmd/ultravmd.
type Config struct {
	Cluster           int32
	NumThreads        int
	NumNetworkThreads int
	NumReactors       int
	Address           string
	Port              int
	Logf              func(format string, v ...interface{})
}

// VM is the runtime singleton: constructed once per process by
// cmd/ultravmd, but expressed as an ordinary handle rather than a package
// global, so tests can run several side by side.
type VM struct {
	cfg Config

	Pool    *pool.ThreadPool
	Network *pool.ThreadPool
	Reactor *pool.ReactorPool
	Metrics *metrics.Metrics

	registerer prometheus.Registerer
	timers     *pool.TimerService

	logf func(format string, v ...interface{})

	regMu    sync.RWMutex
	registry map[message.Address]*graph.Node

	listener net.Listener
	grp      *errgroup.Group
	grpCtx   context.Context
	cancel   context.CancelFunc
}

// New constructs a VM from cfg, defaulting unset fields the way
// cmd/ultravmd's flags do (1 thread, 1 network thread, 1 reactor,
// 127.0.0.1:55699).
func New(cfg Config) *VM {
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 1
	}
	if cfg.NumNetworkThreads <= 0 {
		cfg.NumNetworkThreads = 1
	}
	if cfg.NumReactors <= 0 {
		cfg.NumReactors = 1
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 55699
	}
	if cfg.Logf == nil {
		cfg.Logf = func(format string, v ...interface{}) { log.Printf("vm: "+format, v...) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	grp, grpCtx := errgroup.WithContext(ctx)
	reg := prometheus.NewRegistry()

	return &VM{
		cfg:        cfg,
		Pool:       pool.New(pool.Config{MaxThreads: cfg.NumThreads, Logf: cfg.Logf}),
		Network:    pool.New(pool.Config{MaxThreads: cfg.NumNetworkThreads, Logf: cfg.Logf}),
		Reactor:    pool.NewReactorPool(cfg.NumReactors, 256),
		Metrics:    metrics.New(reg),
		registerer: reg,
		timers:     pool.NewTimerService(),
		logf:       cfg.Logf,
		registry:   make(map[message.Address]*graph.Node),
		grp:        grp,
		grpCtx:     grpCtx,
		cancel:     cancel,
	}
}

// MetricsGatherer exposes the VM's private Prometheus registry so a caller
// (cmd/ultravmd) can serve it over HTTP without reaching into VM internals.
func (v *VM) MetricsGatherer() prometheus.Gatherer {
	return v.registerer.(prometheus.Gatherer)
}

// Register adds n to the address registry so PostMessage and the
// connect/disconnect protocol can find it. n.Resolve is wired to this VM's
// lookup.
func (v *VM) Register(n *graph.Node) {
	n.Resolve = v.Lookup
	v.regMu.Lock()
	v.registry[n.Addr] = n
	v.regMu.Unlock()
}

// Unregister removes n from the address registry.
func (v *VM) Unregister(addr message.Address) {
	v.regMu.Lock()
	delete(v.registry, addr)
	v.regMu.Unlock()
}

// Lookup returns the registered node at addr, or nil.
func (v *VM) Lookup(addr message.Address) *graph.Node {
	v.regMu.RLock()
	defer v.regMu.RUnlock()
	return v.registry[addr]
}

// PostMessage delivers m to its receiver's strand if registered, returning
// an error if no such node exists.
func (v *VM) PostMessage(m *message.Message) error {
	n := v.Lookup(m.Receiver)
	if n == nil {
		return fmt.Errorf("vm: no node registered at %s", m.Receiver)
	}
	n.Post(m)
	return nil
}

// Start binds the TCP listener and begins accepting network sessions,
// supervising the accept loop with an errgroup so a fatal accept error
// aborts the whole VM rather than silently stopping in the background — the
// same "any goroutine's error tears down the group" shape mgmt's engine
// start path gets from joining a raw sync.WaitGroup, but with the error
// actually propagated.
func (v *VM) Start() error {
	addr := fmt.Sprintf("%s:%d", v.cfg.Address, v.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("vm: listen on %s: %w", addr, err)
	}
	v.listener = ln
	v.logf("listening on %s (cluster %d)", addr, v.cfg.Cluster)

	v.grp.Go(func() error {
		return v.acceptLoop(v.grpCtx)
	})
	v.grp.Go(func() error {
		return v.signalLoop(v.grpCtx)
	})
	v.timers.Every(metricsRefreshInterval, v.refreshMetrics)

	return nil
}

// refreshMetrics samples the active worker count of both pools into Metrics.
// Scheduler backlog is not sampled.
func (v *VM) refreshMetrics() {
	v.Metrics.ObservePool("compute", v.Pool.Active())
	v.Metrics.ObservePool("network", v.Network.Active())
}

// acceptLoop accepts connections until ctx is done or the listener closes.
func (v *VM) acceptLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = v.listener.Close()
	}()

	for {
		conn, err := v.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("vm: accept: %w", err)
		}
		sess := newSession(conn, v)
		v.Network.Execute(sessionTask{sess: sess})
	}
}

// signalLoop watches for SIGINT/SIGTERM/SIGQUIT/SIGABRT and cancels the VM
// for an orderly shutdown.
func (v *VM) signalLoop(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGABRT)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		v.logf("received signal %s, shutting down", sig)
		v.cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Wait blocks until every supervised goroutine (accept loop, signal loop)
// has returned, and returns the first error among them, if any.
func (v *VM) Wait() error {
	return v.grp.Wait()
}

// Close tears down the VM: cancels background goroutines, closes the
// listener, and joins both thread pools, collecting independent teardown
// failures with multierror.
func (v *VM) Close() error {
	v.cancel()
	if v.listener != nil {
		_ = v.listener.Close()
	}
	v.timers.Stop()

	var result error
	if err := v.Pool.Shutdown(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := v.Network.Shutdown(); err != nil {
		result = multierror.Append(result, err)
	}
	v.Reactor.Stop()

	_ = v.grp.Wait()
	return result
}
