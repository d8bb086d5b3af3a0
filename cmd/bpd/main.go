// Command bpd is the delay-tolerant bundle-protocol daemon: the event
// dispatcher, router, link manager, and IMC overlay wired together and run
// as a single process. Concrete convergence-layer transports are supplied
// by a deployment-specific companion process or build tag; this binary
// wires the core and leaves the transport-dial/accept loop as an explicit
// extension point (see wire.go's App.NewConnection).
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtnx/bpd/cmn"
	"github.com/dtnx/bpd/cmn/cos"
	"github.com/dtnx/bpd/cmn/nlog"
	"github.com/dtnx/bpd/hk"
)

var (
	build     string
	buildtime string

	configPath string
)

func init() {
	flag.StringVar(&configPath, "config", "", "bpd configuration file")
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	flag.Parse()
	if configPath == "" {
		configPath = os.Getenv("BPD_CONF_FILE")
	}
	if configPath == "" {
		cos.ExitLogf("missing configuration file (use '-config' or BPD_CONF_FILE)")
	}

	cfg, err := cmn.LoadConfig(configPath)
	if err != nil {
		cos.ExitLogf("failed to load configuration from %q: %v", configPath, err)
	}
	if err := updateLogOptions(cfg); err != nil {
		cos.ExitLogf("failed to set up logger: %v", err)
	}
	nlog.Infof("bpd version %s (build %s), local eid %s", version(), buildtime, cfg.EID.Local)

	app, err := Build(cfg)
	if err != nil {
		cos.ExitLogf("failed to wire daemon: %v", err)
	}

	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(cfg.Metrics.ListenAddr, app)
	}

	go hk.DefaultHK.Run()
	hk.WaitStarted()

	go logFlush()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		nlog.Infof("bpd: received %v, shutting down", sig)
		app.Shutdown("signal: " + sig.String())
	}()

	app.Daemon.Run()
	nlog.Flush(true)
}

func updateLogOptions(cfg *cmn.Config) error {
	dir := cfg.Log.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir %q: %w", dir, err)
	}
	nlog.SetLogDirRole(dir, "bpd")
	nlog.SetTitle("bpd")
	return nil
}

func serveMetrics(addr string, app *App) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Daemon.Metrics().Handler())
	nlog.Infof("bpd: serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		nlog.Warningf("bpd: metrics listener on %s stopped: %v", addr, err)
	}
}

func logFlush() {
	for {
		time.Sleep(time.Minute)
		nlog.Flush()
	}
}

func version() string { return "0.1.0" }

func printVer() {
	fmt.Printf("bpd version %s (build %s)\n", version(), buildtime)
}
