// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/rollupcore/cmd/genericconf"
	"github.com/offchainlabs/rollupcore/cmd/util"
	"github.com/offchainlabs/rollupcore/journal"
	"github.com/offchainlabs/rollupcore/rollupapi"
)

func printSampleUsage(progname string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage:                  %s --help \n", progname)
}

func main() {
	os.Exit(mainImpl())
}

func mainImpl() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigint
		log.Info("Shutting down dispute simulator")
		cancel()
	}()

	config, err := ParseDisputeSim(os.Args[1:])
	if err != nil {
		if errors.Is(err, errDumped) {
			return 0
		}
		if errors.Is(err, flag.ErrHelp) || strings.Contains(err.Error(), "help requested") {
			return 0
		}
		util.PrintErrorAndExit(err, printSampleUsage)
	}
	if err := genericconf.InitLog(config.LogType, config.LogLevel, &config.FileLogging, genericconf.DefaultPathResolver(config.Journal.DataDir)); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}
	defer func() {
		_ = genericconf.CloseLog()
	}()
	if err := util.StartMetrics(config.Metrics, &config.MetricsServer); err != nil {
		log.Error("Error starting metrics", "err", err)
		return 1
	}

	outcome, err := run(ctx, config)
	if err != nil {
		log.Error("Dispute simulation failed", "err", err)
		return 1
	}
	log.Info(
		"Dispute settled",
		"challenge", outcome.ChallengeId,
		"winner", outcome.Winner,
		"loser", outcome.Loser,
		"confirmed", outcome.ConfirmedNode,
		"block", outcome.SettledBlock,
		"journaled", outcome.Journaled,
		"moves", outcome.Moves,
	)
	return 0
}

func run(ctx context.Context, config *DisputeSimConfig) (*Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := journal.OpenDatabase(&config.Journal)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	j, err := journal.New(db)
	if err != nil {
		return nil, err
	}

	sim, err := newSimulation(config, j)
	if err != nil {
		return nil, err
	}
	logger := newEventLogger(sim.feed)
	logger.Start(ctx)
	defer func() {
		sim.feed.Close()
		logger.StopAndWait()
	}()

	if config.HTTP.Enable {
		addr := fmt.Sprintf("%v:%v", config.HTTP.Addr, config.HTTP.Port)
		server, err := rollupapi.NewHTTPServer(addr, sim.rollup)
		if err != nil {
			return nil, fmt.Errorf("error serving rollup api on %v: %w", addr, err)
		}
		server.Start(ctx)
		defer server.StopAndWait()
	}

	outcome, err := sim.run(ctx)
	if err != nil {
		return nil, err
	}
	if config.HTTP.Enable && config.Sim.KeepServing {
		log.Info("Dispute settled, serving rollup API until interrupted")
		<-ctx.Done()
	}
	return outcome, nil
}
