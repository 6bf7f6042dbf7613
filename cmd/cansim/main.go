package main

// Runs a CAN simulation from an ini description, optionally replaying
// a fault scenario

import (
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/config"
	"github.com/openxilenv/cansim/pkg/fault"
	"github.com/openxilenv/cansim/pkg/network"
	log "github.com/sirupsen/logrus"

	_ "github.com/openxilenv/cansim/pkg/can/einride"
	_ "github.com/openxilenv/cansim/pkg/can/socketcan"
	_ "github.com/openxilenv/cansim/pkg/can/socketcanfd"
	_ "github.com/openxilenv/cansim/pkg/can/virtual"
)

var DEFAULT_CYCLE_PERIOD = 10 * time.Millisecond

func main() {
	// Command line arguments
	descriptionPath := flag.String("c", "", "ini description of the channels")
	dbcPath := flag.String("d", "", "dbc file imported into the first channel")
	dbcNode := flag.String("node", "", "node whose dbc messages are transmitted")
	scenarioPath := flag.String("f", "", "yaml fault scenario")
	cycles := flag.Int("n", 0, "number of cycles, 0 runs until interrupted")
	period := flag.Duration("t", DEFAULT_CYCLE_PERIOD, "cycle period")
	level := flag.String("v", "info", "log level")
	flag.Parse()

	lvl, err := log.ParseLevel(*level)
	if err != nil {
		log.Fatalf("invalid log level %v", *level)
	}
	log.SetLevel(lvl)
	if *descriptionPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	var scenario *fault.Scenario
	if *scenarioPath != "" {
		scenario, err = fault.LoadScenario(*scenarioPath)
		if err != nil {
			log.Fatalf("loading scenario failed : %v", err)
		}
	}

	bb := blackboard.NewMemory()
	loader := &config.Loader{
		File:       *descriptionPath,
		Registry:   bb,
		DBC:        *dbcPath,
		DBCOptions: config.DBCOptions{Node: *dbcNode, Period: 1},
	}
	net := network.New(loader, network.Config{Blackboard: bb})
	if err := net.Init(); err != nil {
		panic(err)
	}
	defer net.Terminate()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	ticker := time.NewTicker(*period)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			log.Info("interrupted")
			return
		case <-ticker.C:
		}
		cyclic := net.State() == network.StateCyclic
		// Scenario steps scheduled at cycle n apply to the n+1th cycle
		if cyclic && scenario != nil {
			scenario.Step(int(net.Cycles()), net.Faults())
		}
		if err := net.Step(); err != nil {
			log.Fatalf("network failed : %v", err)
		}
		if cyclic && *cycles > 0 && int(net.Cycles()) >= *cycles {
			log.Infof("done after %v cycles", net.Cycles())
			return
		}
	}
}
