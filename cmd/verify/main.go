package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"futarchy-guard/internal/band"
	"futarchy-guard/internal/config"
	"futarchy-guard/internal/indexer/rest"
	"futarchy-guard/internal/logging"
	"futarchy-guard/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultRESTTimeout = 10 * time.Second
	defaultRESTBaseURL = "http://localhost:8080"
	verifyEnvFile      = ".env"

	exitError     = 1
	exitViolation = 2
)

// verify performs a single band check and exits 0 when the spot price is
// inside the band, 2 when it is not. The snapshot comes from a JSON file or
// live from the indexer.
func main() {
	configPath := flag.String("config", "", "optional config path for REST settings")
	snapshotPath := flag.String("snapshot", "", "path to a snapshot JSON file; skips the indexer")
	proposalArg := flag.String("proposal", "", "proposal id to fetch from the indexer")
	flag.Parse()

	if err := config.LoadEnv(verifyEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := defaultRESTBaseURL
	timeout := defaultRESTTimeout
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		if cfg.REST.BaseURL != "" {
			baseURL = cfg.REST.BaseURL
		}
		if cfg.REST.Timeout > 0 {
			timeout = cfg.REST.Timeout
		}
	}
	if env := strings.TrimSpace(os.Getenv("GUARD_INDEXER_URL")); env != "" {
		baseURL = env
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	var snap market.Snapshot
	switch {
	case *snapshotPath != "":
		data, err := os.ReadFile(*snapshotPath)
		if err != nil {
			fatal(err)
		}
		snap, err = market.ParseSnapshot(data)
		if err != nil {
			fatal(err)
		}
	case *proposalArg != "":
		b := common.FromHex(strings.TrimSpace(*proposalArg))
		if len(b) != common.HashLength {
			fatal(fmt.Errorf("invalid proposal id %q", *proposalArg))
		}
		client := rest.New(baseURL, timeout, log)
		var err error
		snap, err = client.ProposalMarkets(context.Background(), common.BytesToHash(b))
		if err != nil {
			fatal(err)
		}
	default:
		fatal(errors.New("either -snapshot or -proposal is required"))
	}

	if err := snap.VerifyFamily(); err != nil {
		fatal(err)
	}

	check, err := band.CheckInBand(snap.Spot, snap.Markets())
	if err != nil {
		fatal(err)
	}

	fmt.Printf("proposal: %s\n", snap.Proposal.Hex())
	fmt.Printf("dao:      %s\n", snap.DAO.Hex())
	fmt.Printf("seq:      %d\n", snap.Seq)
	fmt.Printf("outcomes: %d\n", len(snap.Conditionals))
	fmt.Printf("price:    %s\n", check.Price.Dec())
	fmt.Printf("floor:    %s\n", check.Floor.Dec())
	fmt.Printf("ceiling:  %s\n", check.Ceiling.Dec())
	if check.InBand {
		fmt.Println("verdict:  in band")
		return
	}
	fmt.Println("verdict:  VIOLATION")
	os.Exit(exitViolation)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitError)
}
