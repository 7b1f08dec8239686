package main

import (
	"strings"
	"sync"
	"testing"
)

var cliSetup sync.Once

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	cliSetup.Do(func() {
		initConfig()
		addPersistentFlags()
		registerCommands()
		rootCmd.SilenceUsage = true
		rootCmd.SilenceErrors = true
	})
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestShipRequiresStationFlag(t *testing.T) {
	ws := t.TempDir()
	err := runCLI(t, "ship", "ITEM-1", "-s=", "-w", ws)
	if err == nil || !strings.Contains(err.Error(), "--station is required") {
		t.Fatalf("err = %v, want station requirement", err)
	}
}

func TestShipUsesOperatorStation(t *testing.T) {
	ws := t.TempDir()
	run := func(args ...string) error {
		return runCLI(t, append(args, "-w", ws)...)
	}
	if err := run("item", "intake", "ITEM-1", "--name", "Flange"); err != nil {
		t.Fatalf("intake: %v", err)
	}
	for _, station := range []string{"Saw", "Thread", "CNC"} {
		if err := run("item", "start", "ITEM-1", "-s", station); err != nil {
			t.Fatalf("start at %s: %v", station, err)
		}
		if err := run("item", "complete", "ITEM-1", "-s", station); err != nil {
			t.Fatalf("complete at %s: %v", station, err)
		}
	}
	if err := run("qc", "pass", "ITEM-1"); err != nil {
		t.Fatalf("qc pass: %v", err)
	}
	// Claiming the wrong station must be rejected even though the item is
	// otherwise ready to ship.
	if err := run("ship", "ITEM-1", "-s", "CNC"); err == nil {
		t.Fatal("ship accepted a CNC station claim")
	}
	if err := run("ship", "ITEM-1", "-s", "Ship"); err != nil {
		t.Fatalf("ship from Ship station: %v", err)
	}
}
