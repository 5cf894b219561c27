// Command tlbsim-replay loads a TLB configuration document, builds the
// hierarchy it describes, and — if the document names a recorded access
// trace (§4.8) — replays that trace into one hart's D-TLB stack for
// deterministic offline verification of the configured cache stack.
// Counters are printed on exit, matching §6's exit behaviour.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"tlbsim"
)

// nullClient stands in for the ISS-owned guest physical memory when no
// real ISS is driving the simulator (replay traces carry their own
// pre-resolved entries and never touch the page-walker). Its memory
// methods are never exercised: without a replay trace there is no access
// to drive, and with one, LogReplayer answers as the terminal stage
// instead. InvalidateL0 is called on evictions from hart-associated
// levels during a replay and does nothing.
type nullClient struct{}

func (nullClient) PhysLoad(uint64) uint64                  { return 0 }
func (nullClient) PhysCmpxchg(uint64, uint64, uint64) bool { return false }
func (nullClient) InvalidateL0(int, uint64)                {}

func main() {
	configPath := flag.String("config", envOr("TLB_CONFIG", "tlbsim.config"), "path to the TLB configuration document")
	hartID := flag.Int("hart", 0, "hart id whose D-TLB stack drives the replay trace")
	flag.Parse()

	if err := run(*configPath, *hartID); err != nil {
		fmt.Fprintf(os.Stderr, "tlbsim-replay: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(configPath string, hartID int) error {
	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("opening configuration %q: %w", configPath, err)
	}
	defer f.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sim, err := tlbsim.New(f, nullClient{}, logger)
	if err != nil {
		return fmt.Errorf("building simulator: %w", err)
	}
	defer sim.ResetCounters(os.Stderr, true)
	defer sim.Close()

	replayer := sim.Replayer()
	if replayer == nil {
		logger.Info("no replay trace configured; hierarchy built and validated, nothing to drive")
		return nil
	}

	target := sim.DTLBFor(hartID)
	n := 0
	for {
		ok, err := replayer.ReplayStep(target)
		if err != nil {
			return fmt.Errorf("replaying record %d: %w", n, err)
		}
		if !ok {
			break
		}
		n++
	}
	logger.Info("replay complete", "records", n)
	return nil
}
