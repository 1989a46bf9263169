// cleanup_orders cancels every open order the bridge reports for the configured
// symbols and can optionally wipe saved grid state, so the bot restarts from a
// clean book.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/logging"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		dryRun     = flag.Bool("dry-run", false, "Show what would be done without making changes")
		resetState = flag.Bool("reset-state", false, "Also delete saved state for every configured symbol")
		yes        = flag.Bool("yes", false, "Skip confirmation prompts")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Broker.Provider != "bridge" {
		log.Fatalf("Broker provider is %q; the paper broker keeps no orders between runs", cfg.Broker.Provider)
	}
	syms, err := config.LoadSymbols(cfg.Storage.SymbolsFile)
	if err != nil {
		log.Fatalf("Failed to load symbols: %v", err)
	}

	fmt.Printf("Config:  %s\n", *configPath)
	fmt.Printf("Bridge:  %s\n", cfg.Broker.APIEndpoint)
	fmt.Printf("Symbols: %v\n\n", syms.Names())

	logger := logging.Discard()
	client := broker.NewBridgeClient(cfg.Broker.APIEndpoint, cfg.Broker.APIKey, cfg.GetBrokerTimeout(), logger)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var open []models.Order
	for _, sym := range syms.Names() {
		orders, err := client.GetOpenOrders(ctx, sym)
		if err != nil {
			log.Fatalf("Failed to list open orders for %s: %v", sym, err)
		}
		open = append(open, orders...)
	}

	fmt.Printf("Open orders: %d\n", len(open))
	for _, o := range open {
		fmt.Printf("  %s %s %s %d @ %.3f (%s)\n", o.ID, o.Symbol, o.Side, o.Quantity, o.Price, o.Status)
	}
	fmt.Println()

	if len(open) == 0 && !*resetState {
		fmt.Println("Nothing to do")
		return
	}

	if !*yes && !*dryRun {
		fmt.Printf("This will cancel %d orders", len(open))
		if *resetState {
			fmt.Printf(" and delete saved state for %d symbols", len(syms))
		}
		fmt.Printf(".\nProceed? (yes/no): ")
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			fmt.Printf("Error reading input: %v\n", err)
			return
		}
		if response != "yes" && response != "y" {
			fmt.Println("Cleanup cancelled")
			return
		}
	}

	failed := 0
	for _, o := range open {
		if *dryRun {
			fmt.Printf("DRY RUN: would cancel %s\n", o.ID)
			continue
		}
		if err := client.CancelOrder(ctx, o.ID, o.Symbol); err != nil {
			fmt.Printf("Cancel %s failed: %v\n", o.ID, err)
			failed++
			continue
		}
		fmt.Printf("Canceled %s\n", o.ID)
	}

	if *resetState {
		params, err := storage.NewParamStore(cfg.ParamStore, logger)
		if err != nil {
			log.Fatalf("Failed to open parameter store: %v", err)
		}
		store, err := storage.NewStorage(cfg.Storage.StateDir, params, logger)
		if err != nil {
			log.Fatalf("Failed to open state storage: %v", err)
		}
		for _, sym := range syms.Names() {
			if *dryRun {
				fmt.Printf("DRY RUN: would delete state of %s\n", sym)
				continue
			}
			if err := store.DeleteState(ctx, sym); err != nil {
				fmt.Printf("Delete state %s failed: %v\n", sym, err)
				failed++
				continue
			}
			fmt.Printf("Deleted state of %s\n", sym)
		}
	}

	if failed > 0 {
		fmt.Printf("\nCleanup finished with %d failures\n", failed)
		os.Exit(1)
	}
	fmt.Println("\nCleanup complete. Restart the bot to re-place the grid.")
}
