package domain

import (
	"testing"
	"time"
)

func TestStepSequence(t *testing.T) {
	wantOrder := []WorkflowStep{StepSaw, StepThread, StepCNC, StepQC, StepShip}
	if len(Steps) != len(wantOrder) {
		t.Fatalf("steps %d, want %d", len(Steps), len(wantOrder))
	}
	for i, s := range wantOrder {
		if Steps[i] != s {
			t.Fatalf("step %d is %s, want %s", i, Steps[i], s)
		}
	}

	for i, s := range Steps {
		next, ok := s.Next()
		if i == len(Steps)-1 {
			if ok {
				t.Fatalf("%s has a next step %s", s, next)
			}
		} else if !ok || next != Steps[i+1] {
			t.Fatalf("%s.Next() = %s/%v, want %s", s, next, ok, Steps[i+1])
		}
		prev, ok := s.Previous()
		if i == 0 {
			if ok {
				t.Fatalf("%s has a previous step %s", s, prev)
			}
		} else if !ok || prev != Steps[i-1] {
			t.Fatalf("%s.Previous() = %s/%v, want %s", s, prev, ok, Steps[i-1])
		}
	}
}

func TestParseStep(t *testing.T) {
	if s, ok := ParseStep("CNC"); !ok || s != StepCNC {
		t.Fatalf("ParseStep CNC = %s/%v", s, ok)
	}
	if s, ok := ParseStep(" saw "); !ok || s != StepSaw {
		t.Fatalf("ParseStep is case insensitive and trims: %s/%v", s, ok)
	}
	if _, ok := ParseStep("Lathe"); ok {
		t.Fatal("ParseStep accepted an unknown step")
	}
}

func TestParseHoldReason(t *testing.T) {
	for _, r := range HoldReasons {
		if got, ok := ParseHoldReason(string(r)); !ok || got != r {
			t.Fatalf("ParseHoldReason %q = %s/%v", r, got, ok)
		}
	}
	if _, ok := ParseHoldReason("Gremlins"); ok {
		t.Fatal("ParseHoldReason accepted an unknown reason")
	}
	if _, ok := ParseHoldReason(""); ok {
		t.Fatal("ParseHoldReason accepted empty")
	}
}

func TestHoldAge(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	held := now.Add(-3 * time.Hour)
	it := WorkItem{OnHold: true, HoldTimestamp: &held}
	if age := it.HoldAge(now); age != 3*time.Hour {
		t.Fatalf("hold age %s", age)
	}
	if age := (WorkItem{}).HoldAge(now); age != 0 {
		t.Fatalf("unheld item age %s", age)
	}
}

func TestClassifyHoldAge(t *testing.T) {
	threshold := 24 * time.Hour
	if c := ClassifyHoldAge(2*time.Hour, threshold); c != HoldRecent {
		t.Fatalf("2h class %s", c)
	}
	if c := ClassifyHoldAge(24*time.Hour, threshold); c != HoldAging {
		t.Fatalf("24h class %s", c)
	}
}

func TestOrderReadyToShip(t *testing.T) {
	if (Order{}).ReadyToShip() {
		t.Fatal("empty order reported ready")
	}
	o := Order{Items: []WorkItem{
		{CurrentStep: StepShip},
		{CurrentStep: StepShip},
	}}
	if !o.ReadyToShip() {
		t.Fatal("order with all items at Ship not ready")
	}
	o.Items[1].OnHold = true
	if o.ReadyToShip() {
		t.Fatal("order with a held item reported ready")
	}
	o.Items[1].OnHold = false
	o.Items[1].CurrentStep = StepQC
	if o.ReadyToShip() {
		t.Fatal("order with an item at QC reported ready")
	}
}

func TestWorkItemFilter(t *testing.T) {
	step := StepQC
	status := StatusPending
	onHold := true
	item := WorkItem{
		ID:          "ORD-1-ITEM-001",
		Name:        "Hydraulic Cylinder Rod",
		Description: "Chrome plated rod",
		CurrentStep: StepQC,
		Status:      StatusPending,
		OnHold:      true,
	}

	if !(WorkItemFilter{}).Matches(item) {
		t.Fatal("empty filter rejected item")
	}
	if !(WorkItemFilter{Step: &step, Status: &status, OnHold: &onHold}).Matches(item) {
		t.Fatal("matching filter rejected item")
	}
	other := StepSaw
	if (WorkItemFilter{Step: &other}).Matches(item) {
		t.Fatal("step filter matched wrong step")
	}
	if !(WorkItemFilter{Search: "hydraulic"}).Matches(item) {
		t.Fatal("search is case insensitive over the name")
	}
	if !(WorkItemFilter{Search: "ITEM-001"}).Matches(item) {
		t.Fatal("search should match the id")
	}
	if (WorkItemFilter{Search: "gearbox"}).Matches(item) {
		t.Fatal("search matched unrelated text")
	}
}
