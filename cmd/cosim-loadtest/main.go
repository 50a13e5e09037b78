// Command cosim-loadtest drives a single-process federation of synthetic
// publishers and subscribers to exercise the registration, name
// resolution, and publish paths under contention, reporting throughput at
// the end. The key-selection skew is grounded on
// _examples/postgres-postgres/oltp_clients/benchmark/ycsb.go's
// generator.Zipfian-driven contentious-key selection (pingcap/go-ycsb); the
// working-set tracking is grounded on the same package's tpc.go, which caps
// and samples its id sets with deckarep/golang-set.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	set "github.com/deckarep/golang-set"
	"github.com/pingcap/go-ycsb/pkg/generator"

	"github.com/cosimrt/corekit/broker"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/core"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/transport"
	"github.com/cosimrt/corekit/transport/inproc"
)

var (
	numFederates int
	duration     time.Duration
	skew         float64
	payloadSize  int
	logLevel     string
)

func init() {
	flag.IntVar(&numFederates, "federates", 16, "number of synthetic publishing federates")
	flag.DurationVar(&duration, "duration", 5*time.Second, "how long to publish")
	flag.Float64Var(&skew, "skew", 0.99, "Zipfian skew for which peer each federate subscribes to")
	flag.IntVar(&payloadSize, "payload", 8, "bytes published per value")
	flag.StringVar(&logLevel, "log-level", "warning", "trace, debug, warning, or info")
}

func main() {
	flag.Parse()
	cfg.ApplyLogLevel(logLevel)

	hub := inproc.NewHub()
	rootT := inproc.New(hub, "root")
	leafT := inproc.New(hub, "leaf")
	if err := rootT.AddRoute(1, transport.RouteInfo{Target: "leaf"}); err != nil {
		panic(err)
	}
	if err := leafT.AddRoute(0, transport.RouteInfo{Target: "root"}); err != nil {
		panic(err)
	}

	root := broker.NewRoot("root", rootT)
	leaf := core.New("leaf", leafT)

	if err := rootT.Start(); err != nil {
		panic(err)
	}
	if err := leafT.Start(); err != nil {
		panic(err)
	}
	go root.Run()
	go leaf.Run()
	defer root.Stop()
	defer leaf.Stop()

	if err := leaf.RegisterUpward(); err != nil {
		panic(fmt.Errorf("cosim-loadtest: registering core: %w", err))
	}

	locals := make([]ids.LocalFederateID, numFederates)
	pubs := make([]ids.InterfaceHandle, numFederates)
	inputs := make([]ids.InterfaceHandle, numFederates)

	for i := 0; i < numFederates; i++ {
		local, err := leaf.RegisterFederate(fmt.Sprintf("fed-%d", i))
		if err != nil {
			panic(err)
		}
		pub, err := leaf.RegisterPublication(local, fmt.Sprintf("key-%d", i), "bytes", "")
		if err != nil {
			panic(err)
		}
		input, err := leaf.RegisterInput(local, fmt.Sprintf("input-%d", i), "bytes", "")
		if err != nil {
			panic(err)
		}
		locals[i], pubs[i], inputs[i] = local, pub, input
	}

	// Each federate subscribes to a Zipfian-selected peer's publication,
	// matching ycsb.go's contentious key selection: skewed toward a small
	// set of hot federates rather than uniform fan-out.
	zip := generator.NewZipfianWithRange(0, int64(numFederates-1), skew)
	rng := rand.New(rand.NewSource(1))
	touched := set.NewSet()
	for i := 0; i < numFederates; i++ {
		peer := int(zip.Next(rng))
		touched.Add(peer)
		leaf.AddDestinationTarget(inputs[i], fmt.Sprintf("key-%d", peer))
	}

	deadline := time.Now().Add(duration)
	published := 0
	payload := make([]byte, payloadSize)
	for time.Now().Before(deadline) {
		for i := 0; i < numFederates; i++ {
			fed := leaf.Federate(locals[i])
			if fed == nil {
				continue
			}
			rng.Read(payload)
			if err := leaf.SetValue(fed, pubs[i], append([]byte(nil), payload...)); err != nil {
				continue
			}
			published++
		}
	}

	elapsed := time.Since(deadline.Add(-duration))
	fmt.Printf("published %d values across %d federates in %s (%.0f/s)\n",
		published, numFederates, elapsed, float64(published)/elapsed.Seconds())
	fmt.Printf("distinct hot federates touched by name resolution: %d\n", touched.Cardinality())
}
