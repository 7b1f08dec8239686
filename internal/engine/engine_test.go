package engine_test

import (
	"context"
	"testing"
	"time"

	"cyclone/internal/config"
	"cyclone/internal/db"
	"cyclone/internal/domain"
	"cyclone/internal/engine"
	"cyclone/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

var tester = engine.Actor{ID: "tester", Name: "Test Operator"}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default("Test Floor"))
	eng.Now = func() time.Time { return clock }
	return &testEnv{Engine: eng, Ctx: context.Background(), clock: &clock}
}

// tick advances the injected clock so consecutive audit entries get
// distinct timestamps.
func (env *testEnv) tick() {
	*env.clock = env.clock.Add(time.Minute)
}

func (env *testEnv) intake(t *testing.T, id string) domain.WorkItem {
	t.Helper()
	it, ok, err := env.Engine.AddNewItem(env.Ctx, id, tester, engine.IntakeOptions{})
	if err != nil || !ok {
		t.Fatalf("intake %s: ok=%v err=%v", id, ok, err)
	}
	return it
}

func (env *testEnv) item(t *testing.T, id string) domain.WorkItem {
	t.Helper()
	it, err := env.Engine.Repo.GetItem(env.Ctx, id)
	if err != nil {
		t.Fatalf("get item %s: %v", id, err)
	}
	return it
}

// advanceTo walks an item from Saw to the given step via start/complete.
func (env *testEnv) advanceTo(t *testing.T, id string, target domain.WorkflowStep) {
	t.Helper()
	for {
		it := env.item(t, id)
		if it.CurrentStep == target {
			return
		}
		env.tick()
		if ok, err := env.Engine.StartStep(env.Ctx, id, tester, it.CurrentStep); err != nil || !ok {
			t.Fatalf("start %s at %s: ok=%v err=%v", id, it.CurrentStep, ok, err)
		}
		env.tick()
		if ok, err := env.Engine.CompleteStep(env.Ctx, id, tester, it.CurrentStep); err != nil || !ok {
			t.Fatalf("complete %s at %s: ok=%v err=%v", id, it.CurrentStep, ok, err)
		}
	}
}

func (env *testEnv) auditCount(t *testing.T, id string) int {
	t.Helper()
	n, err := env.Engine.Repo.CountAuditEntries(env.Ctx, id)
	if err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

func TestIntakeStartsAtSaw(t *testing.T) {
	env := newTestEnv(t)
	it := env.intake(t, "ITEM-1")
	if it.CurrentStep != domain.StepSaw || it.Status != domain.StatusPending {
		t.Fatalf("intake landed at %s/%s, want Saw/Pending", it.CurrentStep, it.Status)
	}
	if it.Quantity != 1 || it.Priority != domain.PriorityNormal {
		t.Fatalf("defaults not applied: qty=%d priority=%s", it.Quantity, it.Priority)
	}
	if n := env.auditCount(t, "ITEM-1"); n != 1 {
		t.Fatalf("intake wrote %d audit entries, want 1", n)
	}
	entries, err := env.Engine.Repo.AuditHistory(env.Ctx, "ITEM-1")
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Action != domain.ActionCreated {
		t.Fatalf("first entry is %s, want Created", entries[0].Action)
	}
}

func TestFullFloorTraversal(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	env.advanceTo(t, "ITEM-1", domain.StepQC)

	env.tick()
	if ok, err := env.Engine.PassQC(env.Ctx, "ITEM-1", tester); err != nil || !ok {
		t.Fatalf("qc pass: ok=%v err=%v", ok, err)
	}
	it := env.item(t, "ITEM-1")
	if it.CurrentStep != domain.StepShip || it.Status != domain.StatusPending {
		t.Fatalf("after qc pass at %s/%s, want Ship/Pending", it.CurrentStep, it.Status)
	}

	env.tick()
	if ok, err := env.Engine.ShipItem(env.Ctx, "ITEM-1", tester, domain.StepShip); err != nil || !ok {
		t.Fatalf("ship: ok=%v err=%v", ok, err)
	}
	it = env.item(t, "ITEM-1")
	if it.Status != domain.StatusCompleted {
		t.Fatalf("shipped item status %s, want Completed", it.Status)
	}

	// Shipping twice must be rejected without a new audit entry.
	before := env.auditCount(t, "ITEM-1")
	env.tick()
	if ok, err := env.Engine.ShipItem(env.Ctx, "ITEM-1", tester, domain.StepShip); err != nil || ok {
		t.Fatalf("re-ship: ok=%v err=%v, want rejection", ok, err)
	}
	if after := env.auditCount(t, "ITEM-1"); after != before {
		t.Fatalf("rejected ship wrote an audit entry (%d -> %d)", before, after)
	}
}

func TestStationGate(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	before := env.auditCount(t, "ITEM-1")

	env.tick()
	ok, err := env.Engine.StartStep(env.Ctx, "ITEM-1", tester, domain.StepCNC)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("start at wrong station was accepted")
	}
	it := env.item(t, "ITEM-1")
	if it.Status != domain.StatusPending || it.CurrentStep != domain.StepSaw {
		t.Fatalf("rejected start mutated state: %s/%s", it.CurrentStep, it.Status)
	}
	if after := env.auditCount(t, "ITEM-1"); after != before {
		t.Fatalf("rejected start wrote an audit entry (%d -> %d)", before, after)
	}
}

func TestStartRequiresPending(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	env.tick()
	if ok, _ := env.Engine.StartStep(env.Ctx, "ITEM-1", tester, domain.StepSaw); !ok {
		t.Fatal("first start rejected")
	}
	if ok, _ := env.Engine.StartStep(env.Ctx, "ITEM-1", tester, domain.StepSaw); ok {
		t.Fatal("second start on an in-progress item was accepted")
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	if ok, _ := env.Engine.CompleteStep(env.Ctx, "ITEM-1", tester, domain.StepSaw); ok {
		t.Fatal("complete on a pending item was accepted")
	}
}

func TestHoldBlocksProgress(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")

	env.tick()
	if ok, err := env.Engine.PlaceOnHold(env.Ctx, "ITEM-1", domain.HoldMaterialDefect, tester); err != nil || !ok {
		t.Fatalf("hold: ok=%v err=%v", ok, err)
	}
	it := env.item(t, "ITEM-1")
	if !it.OnHold || it.HoldReason != domain.HoldMaterialDefect || it.HoldTimestamp == nil {
		t.Fatalf("hold fields not set: %+v", it)
	}

	if ok, _ := env.Engine.StartStep(env.Ctx, "ITEM-1", tester, domain.StepSaw); ok {
		t.Fatal("start accepted while on hold")
	}

	env.tick()
	if ok, err := env.Engine.ReleaseHold(env.Ctx, "ITEM-1", tester); err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	it = env.item(t, "ITEM-1")
	if it.OnHold || it.HoldReason != "" || it.HoldTimestamp != nil {
		t.Fatalf("hold fields not cleared: %+v", it)
	}
	if ok, _ := env.Engine.StartStep(env.Ctx, "ITEM-1", tester, domain.StepSaw); !ok {
		t.Fatal("start rejected after release")
	}
}

func TestHoldAndReleaseAreNotIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")

	env.tick()
	if ok, _ := env.Engine.PlaceOnHold(env.Ctx, "ITEM-1", domain.HoldMachineIssue, tester); !ok {
		t.Fatal("first hold rejected")
	}
	if ok, _ := env.Engine.PlaceOnHold(env.Ctx, "ITEM-1", domain.HoldCustomerRequest, tester); ok {
		t.Fatal("second hold accepted")
	}
	it := env.item(t, "ITEM-1")
	if it.HoldReason != domain.HoldMachineIssue {
		t.Fatalf("second hold overwrote reason: %s", it.HoldReason)
	}

	env.tick()
	if ok, _ := env.Engine.ReleaseHold(env.Ctx, "ITEM-1", tester); !ok {
		t.Fatal("release rejected")
	}
	if ok, _ := env.Engine.ReleaseHold(env.Ctx, "ITEM-1", tester); ok {
		t.Fatal("second release accepted")
	}
}

func TestQCFailHoldsItem(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	env.advanceTo(t, "ITEM-1", domain.StepQC)

	env.tick()
	if ok, err := env.Engine.FailQC(env.Ctx, "ITEM-1", domain.HoldDimensionError, tester); err != nil || !ok {
		t.Fatalf("qc fail: ok=%v err=%v", ok, err)
	}
	it := env.item(t, "ITEM-1")
	if !it.OnHold || it.HoldReason != domain.HoldDimensionError || it.CurrentStep != domain.StepQC {
		t.Fatalf("qc fail state: %+v", it)
	}
	entries, err := env.Engine.Repo.AuditHistory(env.Ctx, "ITEM-1")
	if err != nil {
		t.Fatal(err)
	}
	last := entries[len(entries)-1]
	if last.Action != domain.ActionFailedQC {
		t.Fatalf("last action %s, want Failed QC", last.Action)
	}
	if last.Notes != "Reason: Dimension Error" {
		t.Fatalf("qc fail notes %q", last.Notes)
	}

	// A held item cannot pass QC until released.
	if ok, _ := env.Engine.PassQC(env.Ctx, "ITEM-1", tester); ok {
		t.Fatal("qc pass accepted while on hold")
	}
}

func TestQCFailRejectedAwayFromQC(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	if ok, _ := env.Engine.FailQC(env.Ctx, "ITEM-1", domain.HoldSurfaceFinish, tester); ok {
		t.Fatal("qc fail accepted at Saw")
	}
	if ok, _ := env.Engine.PassQC(env.Ctx, "ITEM-1", tester); ok {
		t.Fatal("qc pass accepted at Saw")
	}
}

func TestReworkReturnsToSawAndClearsHold(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	env.advanceTo(t, "ITEM-1", domain.StepQC)
	env.tick()
	if ok, _ := env.Engine.FailQC(env.Ctx, "ITEM-1", domain.HoldDimensionError, tester); !ok {
		t.Fatal("qc fail rejected")
	}

	env.tick()
	if ok, err := env.Engine.SendToRework(env.Ctx, "ITEM-1", tester, ""); err != nil || !ok {
		t.Fatalf("rework: ok=%v err=%v", ok, err)
	}
	it := env.item(t, "ITEM-1")
	if it.CurrentStep != domain.StepSaw || it.Status != domain.StatusPending || it.OnHold {
		t.Fatalf("rework state: %+v", it)
	}
	entries, err := env.Engine.Repo.AuditHistory(env.Ctx, "ITEM-1")
	if err != nil {
		t.Fatal(err)
	}
	last := entries[len(entries)-1]
	if last.Step != domain.StepQC {
		t.Fatalf("rework entry recorded step %s, want the step it left (QC)", last.Step)
	}
	if last.Notes != "Returned from QC to Saw for rework" {
		t.Fatalf("rework notes %q", last.Notes)
	}
}

func TestShipGuardReasons(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine

	check := e.CanShipItem(domain.WorkItem{CurrentStep: domain.StepCNC})
	if check.CanShip || check.Reason != "Item is at CNC, not ready for shipping" {
		t.Fatalf("wrong-step check: %+v", check)
	}
	check = e.CanShipItem(domain.WorkItem{CurrentStep: domain.StepShip, OnHold: true})
	if check.CanShip || check.Reason != "QC HOLD ACTIVE" {
		t.Fatalf("held check: %+v", check)
	}
	check = e.CanShipItem(domain.WorkItem{CurrentStep: domain.StepShip, Status: domain.StatusCompleted})
	if check.CanShip || check.Reason != "Item already shipped" {
		t.Fatalf("shipped check: %+v", check)
	}
	check = e.CanShipItem(domain.WorkItem{CurrentStep: domain.StepShip, Status: domain.StatusPending})
	if !check.CanShip || check.Reason != "" {
		t.Fatalf("clear check: %+v", check)
	}
}

func TestShipOnlyFromShipStation(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	env.advanceTo(t, "ITEM-1", domain.StepQC)
	env.tick()
	if ok, _ := env.Engine.PassQC(env.Ctx, "ITEM-1", tester); !ok {
		t.Fatal("qc pass rejected")
	}
	if ok, _ := env.Engine.ShipItem(env.Ctx, "ITEM-1", tester, domain.StepQC); ok {
		t.Fatal("ship accepted from QC station")
	}
}

func TestAuditTrailChronology(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	env.advanceTo(t, "ITEM-1", domain.StepQC)
	env.tick()
	if ok, _ := env.Engine.PassQC(env.Ctx, "ITEM-1", tester); !ok {
		t.Fatal("qc pass rejected")
	}

	entries, err := env.Engine.Repo.AuditHistory(env.Ctx, "ITEM-1")
	if err != nil {
		t.Fatal(err)
	}
	// Created + (start+complete) x3 + Passed QC
	if len(entries) != 8 {
		t.Fatalf("audit entries %d, want 8", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("entry %d precedes entry %d", i, i-1)
		}
	}
	want := []domain.AuditAction{
		domain.ActionCreated,
		domain.ActionStarted, domain.ActionCompleted,
		domain.ActionStarted, domain.ActionCompleted,
		domain.ActionStarted, domain.ActionCompleted,
		domain.ActionPassedQC,
	}
	for i, w := range want {
		if entries[i].Action != w {
			t.Fatalf("entry %d action %s, want %s", i, entries[i].Action, w)
		}
	}
}

func TestCompleteRecordsStepBeforeAdvance(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	env.tick()
	if ok, _ := env.Engine.StartStep(env.Ctx, "ITEM-1", tester, domain.StepSaw); !ok {
		t.Fatal("start rejected")
	}
	env.tick()
	if ok, _ := env.Engine.CompleteStep(env.Ctx, "ITEM-1", tester, domain.StepSaw); !ok {
		t.Fatal("complete rejected")
	}
	entries, err := env.Engine.Repo.AuditHistory(env.Ctx, "ITEM-1")
	if err != nil {
		t.Fatal(err)
	}
	last := entries[len(entries)-1]
	if last.Step != domain.StepSaw {
		t.Fatalf("completion entry step %s, want Saw", last.Step)
	}
	if it := env.item(t, "ITEM-1"); it.CurrentStep != domain.StepThread {
		t.Fatalf("item at %s, want Thread", it.CurrentStep)
	}
}

func TestIntakeDuplicateRejected(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	_, ok, err := env.Engine.AddNewItem(env.Ctx, "ITEM-1", tester, engine.IntakeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("duplicate intake accepted")
	}
	if n := env.auditCount(t, "ITEM-1"); n != 1 {
		t.Fatalf("duplicate intake wrote audit entries: %d", n)
	}
}

func TestIntakeWithoutOrderUsesGeneralStock(t *testing.T) {
	env := newTestEnv(t)
	it := env.intake(t, "ITEM-1")
	if it.OrderID != domain.GeneralStockOrderID {
		t.Fatalf("order id %s, want %s", it.OrderID, domain.GeneralStockOrderID)
	}
	o, err := env.Engine.Repo.GetOrder(env.Ctx, domain.GeneralStockOrderID)
	if err != nil {
		t.Fatalf("general stock order not created: %v", err)
	}
	if o.CustomerName != "General Stock" {
		t.Fatalf("general stock customer %q", o.CustomerName)
	}
	// A second no-order intake reuses the same order.
	env.intake(t, "ITEM-2")
	orders, err := env.Engine.Repo.ListOrders(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders %d, want 1", len(orders))
	}
}

func TestIntakeUnknownOrderGetsPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	it, ok, err := env.Engine.AddNewItem(env.Ctx, "ITEM-1", tester, engine.IntakeOptions{OrderID: "ORD-9999"})
	if err != nil || !ok {
		t.Fatalf("intake: ok=%v err=%v", ok, err)
	}
	if it.OrderID != "ORD-9999" {
		t.Fatalf("order id %s", it.OrderID)
	}
	o, err := env.Engine.Repo.GetOrder(env.Ctx, "ORD-9999")
	if err != nil {
		t.Fatalf("placeholder order not created: %v", err)
	}
	if o.CustomerName != "Unverified Order" {
		t.Fatalf("placeholder customer %q", o.CustomerName)
	}
}

func TestClockOnZeroValueEngine(t *testing.T) {
	var e engine.Engine
	before := time.Now().Add(-time.Minute)
	got := e.Clock()
	if got.Before(before) || got.After(time.Now().Add(time.Minute)) {
		t.Fatalf("zero-value clock returned %v", got)
	}
}

func TestIntakeCompletesOnSingleConnection(t *testing.T) {
	env := newTestEnv(t)
	// The workspace pool holds exactly one connection, so any order lookup
	// issued outside the intake transaction would wait on it forever.
	env.Engine.DB.SetMaxOpenConns(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok, err := env.Engine.AddNewItem(env.Ctx, "ITEM-1", tester, engine.IntakeOptions{}); err != nil || !ok {
			t.Errorf("general stock intake: ok=%v err=%v", ok, err)
		}
		if _, ok, err := env.Engine.AddNewItem(env.Ctx, "ITEM-2", tester, engine.IntakeOptions{OrderID: "ORD-42"}); err != nil || !ok {
			t.Errorf("placeholder intake: ok=%v err=%v", ok, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("intake did not return; order resolution is starving the connection pool")
	}
}

func TestUnknownItemRejectedNotErrored(t *testing.T) {
	env := newTestEnv(t)
	ok, err := env.Engine.StartStep(env.Ctx, "NO-SUCH", tester, domain.StepSaw)
	if err != nil {
		t.Fatalf("unknown item surfaced as error: %v", err)
	}
	if ok {
		t.Fatal("unknown item accepted")
	}
}

func TestHeldItemsClassification(t *testing.T) {
	env := newTestEnv(t)
	env.intake(t, "ITEM-1")
	env.intake(t, "ITEM-2")

	if ok, _ := env.Engine.PlaceOnHold(env.Ctx, "ITEM-1", domain.HoldMaterialDefect, tester); !ok {
		t.Fatal("hold rejected")
	}
	// Age the first hold past the 24h default threshold, then hold the second.
	*env.clock = env.clock.Add(25 * time.Hour)
	if ok, _ := env.Engine.PlaceOnHold(env.Ctx, "ITEM-2", domain.HoldMachineIssue, tester); !ok {
		t.Fatal("hold rejected")
	}

	held, err := env.Engine.HeldItems(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(held) != 2 {
		t.Fatalf("held items %d, want 2", len(held))
	}
	classes := map[string]domain.HoldAgeClass{}
	for _, h := range held {
		classes[h.Item.ID] = h.Class
	}
	if classes["ITEM-1"] != domain.HoldAging {
		t.Fatalf("ITEM-1 class %s, want aging", classes["ITEM-1"])
	}
	if classes["ITEM-2"] != domain.HoldRecent {
		t.Fatalf("ITEM-2 class %s, want recent", classes["ITEM-2"])
	}
}

func TestActorNameResolvedFromRoster(t *testing.T) {
	env := newTestEnv(t)
	_, ok, err := env.Engine.AddNewItem(env.Ctx, "ITEM-1", engine.Actor{ID: "OP-101"}, engine.IntakeOptions{})
	if err != nil || !ok {
		t.Fatalf("intake: ok=%v err=%v", ok, err)
	}
	entries, err := env.Engine.Repo.AuditHistory(env.Ctx, "ITEM-1")
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].ActorName != "Mike Johnson" {
		t.Fatalf("actor name %q, want roster name", entries[0].ActorName)
	}
}

func TestOrderReadyToShip(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.InsertOrder(env.Ctx, domain.Order{
		ID:           "ORD-1",
		CustomerName: "Acme",
		OrderNumber:  "WO-1",
		DueDate:      env.clock.Add(72 * time.Hour),
		CreatedAt:    *env.clock,
	}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"A", "B"} {
		if _, ok, err := env.Engine.AddNewItem(env.Ctx, id, tester, engine.IntakeOptions{OrderID: "ORD-1"}); err != nil || !ok {
			t.Fatalf("intake %s: ok=%v err=%v", id, ok, err)
		}
	}
	ready, err := env.Engine.Repo.ReadyToShipOrders(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Fatalf("order ready with items at Saw")
	}

	for _, id := range []string{"A", "B"} {
		env.advanceTo(t, id, domain.StepQC)
		env.tick()
		if ok, _ := env.Engine.PassQC(env.Ctx, id, tester); !ok {
			t.Fatalf("qc pass %s rejected", id)
		}
	}
	ready, err = env.Engine.Repo.ReadyToShipOrders(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != "ORD-1" {
		t.Fatalf("ready orders %+v", ready)
	}

	// A hold on any item takes the order off the ready list.
	if ok, _ := env.Engine.PlaceOnHold(env.Ctx, "A", domain.HoldDocumentationMissing, tester); !ok {
		t.Fatal("hold rejected")
	}
	ready, err = env.Engine.Repo.ReadyToShipOrders(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Fatal("order still ready with a held item")
	}
}
