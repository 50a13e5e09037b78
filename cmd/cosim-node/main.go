// Command cosim-node starts one participant in a federation: the root
// broker, an intermediate broker, or a core. Flag-driven dispatch on a
// single "-node" switch mirrors fc-server/main.go's "-node p|c" idiom
// (_examples/postgres-postgres/oltp_clients/fc-server/main.go), generalized
// from "participant vs coordinator" to this runtime's three node kinds.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cosimrt/corekit/broker"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/core"
	"github.com/cosimrt/corekit/transport"
	"github.com/cosimrt/corekit/transport/inproc"
	"github.com/cosimrt/corekit/transport/natsconn"
)

var (
	nodeKind      string
	name          string
	transportKind string
	natsURL       string
	parentName    string
	configPath    string
	logLevel      string
	timeout       time.Duration
	journalDir    string
)

func usage() {
	flag.PrintDefaults()
}

func init() {
	flag.StringVar(&nodeKind, "node", "root", "the node kind to start: root, broker, or core")
	flag.StringVar(&name, "name", "", "this node's participant name (required unless set by -config)")
	flag.StringVar(&transportKind, "transport", "nats", "the transport to connect over: nats or inproc")
	flag.StringVar(&natsURL, "nats-url", nats.DefaultURL, "the NATS server URL")
	flag.StringVar(&parentName, "parent", "root", "the parent participant's name (ignored for -node root)")
	flag.StringVar(&configPath, "config", "", "an optional JSON/TOML config file (spec §6); flags override its fields")
	flag.StringVar(&logLevel, "log-level", "info", "trace, debug, warning, or info")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "parent keepalive deadline; 0 disables the timeout monitor")
	flag.StringVar(&journalDir, "journal-dir", "", "directory for per-route resend journals; empty disables them")
	flag.Usage = usage
}

func main() {
	flag.Parse()

	c := cfg.Defaults()
	if configPath != "" {
		loaded, err := cfg.Load(configPath)
		if err != nil {
			fatalf("%v", err)
		}
		c = loaded
	}
	if name != "" {
		c.Name = name
	}
	if c.Name == "" {
		fatalf("-name is required (or set name in -config)")
	}

	switch nodeKind {
	case "root":
		c.NodeKind = cfg.NodeRoot
	case "broker":
		c.NodeKind = cfg.NodeBroker
	case "core":
		c.NodeKind = cfg.NodeCore
	default:
		fatalf("unknown -node %q (want root, broker, or core)", nodeKind)
	}
	switch transportKind {
	case "nats":
		c.TransportKind = cfg.TransportNATS
		c.TransportAddress = natsURL
	case "inproc":
		c.TransportKind = cfg.TransportInproc
	default:
		fatalf("unknown -transport %q (want nats or inproc)", transportKind)
	}
	c.ParentAddress = parentName
	cfg.ApplyLogLevel(logLevel)

	tport, err := buildTransport(c)
	if err != nil {
		fatalf("%v", err)
	}

	switch c.NodeKind {
	case cfg.NodeRoot:
		b := broker.NewRoot(c.Name, tport)
		if journalDir != "" {
			b.EnableJournal(journalDir)
		}
		if err := tport.Start(); err != nil {
			fatalf("starting transport: %v", err)
		}
		go b.Run()
		cfg.Logf("root broker %s started", c.Name)
		waitForSignal()
		b.Stop()

	case cfg.NodeBroker:
		if err := wireParentRoute(tport, c.ParentAddress); err != nil {
			fatalf("%v", err)
		}
		b := broker.New(c.Name, tport)
		if journalDir != "" {
			b.EnableJournal(journalDir)
		}
		if err := tport.Start(); err != nil {
			fatalf("starting transport: %v", err)
		}
		go b.Run()
		if err := b.RegisterUpward(); err != nil {
			fatalf("registering with %s: %v", c.ParentAddress, err)
		}
		if timeout > 0 {
			b.StartTimeoutMonitor(timeout/3, timeout)
		}
		cfg.Logf("broker %s registered under %s, global id %s", c.Name, c.ParentAddress, b.Self())
		waitForSignal()
		b.Stop()

	case cfg.NodeCore:
		if err := wireParentRoute(tport, c.ParentAddress); err != nil {
			fatalf("%v", err)
		}
		co := core.New(c.Name, tport)
		if journalDir != "" {
			co.EnableJournal(journalDir)
		}
		if err := tport.Start(); err != nil {
			fatalf("starting transport: %v", err)
		}
		go co.Run()
		if err := co.RegisterUpward(); err != nil {
			fatalf("registering with %s: %v", c.ParentAddress, err)
		}
		if timeout > 0 {
			co.StartTimeoutMonitor(timeout/3, timeout)
		}
		cfg.Logf("core %s registered under %s", c.Name, c.ParentAddress)
		waitForSignal()
		co.Stop()
	}
}

// buildTransport constructs the Transport named by c.TransportKind. inproc
// is only useful when every participant shares this same process (a local
// demo or smoke test); a real deployment spans processes and needs nats.
func buildTransport(c cfg.Config) (transport.Transport, error) {
	switch c.TransportKind {
	case cfg.TransportNATS:
		return natsconn.Dial(c.TransportAddress)
	case cfg.TransportInproc:
		return inproc.New(localDemoHub(), c.Name), nil
	default:
		return nil, fmt.Errorf("cosim-node: unsupported transport kind %q", c.TransportKind)
	}
}

// localDemoHub is the single process-wide inproc.Hub used when every
// participant in an -transport inproc run lives in this one process.
var demoHub = inproc.NewHub()

func localDemoHub() *inproc.Hub { return demoHub }

// wireParentRoute adds the upward route (route 0) to parentName, the one
// piece of addressing every non-root participant needs before registering.
func wireParentRoute(tport transport.Transport, parentName string) error {
	return tport.AddRoute(0, transport.RouteInfo{Target: parentName})
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func fatalf(format string, a ...interface{}) {
	cfg.Logf("cosim-node: fatal: "+format, a...)
	os.Exit(1)
}
