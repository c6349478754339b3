// Command ultravmd starts a standalone ultravm node: a thread pool, a
// reactor pool, and a TCP acceptor bound to the configured address.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/purpleidea/ultravm/vm"
)

// args is the go-arg CLI struct. Defaults mirror vm.New's own defaults so
// `ultravmd` with no flags behaves the same as vm.New(vm.Config{}).
type args struct {
	Cluster           int32  `arg:"--cluster" default:"0" help:"cluster identifier stamped into this node's messages"`
	NumThreads        int    `arg:"--num-threads" default:"1" help:"worker threads in the compute pool"`
	NumNetworkThreads int    `arg:"--num-network-threads" default:"1" help:"worker threads serving TCP sessions"`
	NumReactors       int    `arg:"--num-reactors" default:"1" help:"round-robin event loops in the reactor pool"`
	Address           string `arg:"--address" default:"127.0.0.1" help:"address to bind the TCP acceptor to"`
	Port              int    `arg:"--port" default:"55699" help:"port to bind the TCP acceptor to"`
	MetricsAddress    string `arg:"--metrics-address" default:"" help:"address:port to serve Prometheus metrics on, e.g. 127.0.0.1:9090; empty disables it"`
}

// Version satisfies go-arg's optional Versioned interface.
func (args) Version() string {
	return "ultravmd (development build)"
}

func main() {
	os.Exit(run())
}

func run() int {
	var a args
	arg.MustParse(&a)

	logf := func(format string, v ...interface{}) { log.Printf(format, v...) }

	machine := vm.New(vm.Config{
		Cluster:           a.Cluster,
		NumThreads:        a.NumThreads,
		NumNetworkThreads: a.NumNetworkThreads,
		NumReactors:       a.NumReactors,
		Address:           a.Address,
		Port:              a.Port,
		Logf:              logf,
	})

	if a.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(machine.MetricsGatherer(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: a.MetricsAddress, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logf("metrics server: %v", err)
			}
		}()
	}

	if err := machine.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "ultravmd: %v\n", err)
		return 1
	}

	if err := machine.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "ultravmd: %v\n", err)
		_ = machine.Close()
		return 1
	}

	if err := machine.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "ultravmd: %v\n", err)
		return 1
	}

	return 0
}
