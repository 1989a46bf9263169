// reset_state rewrites saved grid state from symbols.json, optionally taking the
// base position from the bridge's current holding.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/logging"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/storage"
	"github.com/eddiefleurent/vagrid/internal/util"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		symbol     = flag.String("symbol", "", "Reset only this symbol")
		fromBroker = flag.Bool("from-broker", false, "Use the bridge holding as base position")
		dryRun     = flag.Bool("dry-run", false, "Print the new state without saving it")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	syms, err := config.LoadSymbols(cfg.Storage.SymbolsFile)
	if err != nil {
		log.Fatalf("Failed to load symbols: %v", err)
	}

	logger := logging.Discard()
	params, err := storage.NewParamStore(cfg.ParamStore, logger)
	if err != nil {
		log.Fatalf("Failed to open parameter store: %v", err)
	}
	store, err := storage.NewStorage(cfg.Storage.StateDir, params, logger)
	if err != nil {
		log.Fatalf("Failed to open state storage: %v", err)
	}

	var client broker.Broker
	if *fromBroker {
		if cfg.Broker.Provider != "bridge" {
			log.Fatalf("-from-broker needs the bridge provider")
		}
		client = broker.NewBridgeClient(cfg.Broker.APIEndpoint, cfg.Broker.APIKey, cfg.GetBrokerTimeout(), logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	names := syms.Names()
	if *symbol != "" {
		std := util.ToStandardSymbol(*symbol)
		if _, ok := syms[std]; !ok {
			log.Fatalf("Symbol %s is not in %s", std, cfg.Storage.SymbolsFile)
		}
		names = []string{std}
	}

	for _, sym := range names {
		st := models.NewSymbolState(sym, syms[sym], nil)
		if client != nil {
			pos, err := client.GetPosition(ctx, sym)
			if err != nil {
				log.Fatalf("Failed to get position for %s: %v", sym, err)
			}
			if pos.Amount > st.BasePosition {
				st.BasePosition = pos.Amount
				st.ApplyConfig(syms[sym])
			}
		}
		state := st.Persist()
		fmt.Printf("%s: base_price=%.3f grid_unit=%d base_position=%d max_position=%d\n",
			sym, st.BasePrice, st.GridUnit, st.BasePosition, st.MaxPosition)
		if *dryRun {
			continue
		}
		if err := store.SaveState(ctx, sym, state); err != nil {
			log.Fatalf("Failed to save state for %s: %v", sym, err)
		}
	}
	if *dryRun {
		fmt.Println("\nDRY RUN: nothing saved")
		return
	}
	fmt.Printf("\nState reset for %d symbols. Restart the bot to pick it up.\n", len(names))
}
