package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cyclone/internal/audit"
	"cyclone/internal/config"
	"cyclone/internal/domain"
	"cyclone/internal/repo"
)

// Actor identifies who performed a transition. Name may be empty; it is then
// resolved from the config roster, falling back to the id.
type Actor struct {
	ID   string
	Name string
}

// ShipCheck is the result of the ship guard.
type ShipCheck struct {
	CanShip bool   `json:"can_ship"`
	Reason  string `json:"reason,omitempty"`
}

// IntakeOptions are parameters for registering a new work item.
type IntakeOptions struct {
	OrderID     string
	Name        string
	Description string
	Quantity    int
	Priority    domain.Priority
}

// Engine is the workflow state machine. It exclusively owns write access to
// work item and order state: every successful operation applies exactly one
// state mutation and appends exactly one audit entry, in a single
// transaction. Business-rule violations are not errors; they reject the call
// with false and leave state untouched. Returned errors are infrastructure
// failures only.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// Clock reads the engine's time source, falling back to time.Now on a
// zero-value Engine.
func (e Engine) Clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) actorName(a Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return e.Config.UserName(a.ID)
}

// lookup fetches the item, logging and rejecting when it does not exist.
func (e Engine) lookup(ctx context.Context, itemID, op string) (domain.WorkItem, bool, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.logger().Warn("unknown work item", "op", op, "item", itemID)
			return it, false, nil
		}
		return it, false, err
	}
	return it, true, nil
}

// stationMatches enforces the station gate: a station may only act on items
// physically present at it. A mismatch is recorded as a process violation.
func (e Engine) stationMatches(it domain.WorkItem, station domain.WorkflowStep, actor Actor, op string) bool {
	if station == it.CurrentStep {
		return true
	}
	e.logger().Warn("process violation: station mismatch",
		"op", op, "item", it.ID, "station", station, "current_step", it.CurrentStep, "actor", actor.ID)
	return false
}

// apply commits one item mutation together with its audit entry.
func (e Engine) apply(ctx context.Context, it domain.WorkItem, entry domain.AuditEntry) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return err
	}
	if err := e.Audit.Append(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) newEntry(it domain.WorkItem, action domain.AuditAction, actor Actor, station domain.WorkflowStep, notes string) domain.AuditEntry {
	return domain.AuditEntry{
		ID:        uuid.NewString(),
		ItemID:    it.ID,
		Timestamp: e.Clock().UTC(),
		Step:      it.CurrentStep,
		Action:    action,
		ActorID:   actor.ID,
		ActorName: e.actorName(actor),
		Station:   station,
		Notes:     notes,
	}
}

// StartStep begins work on an item at its current station.
func (e Engine) StartStep(ctx context.Context, itemID string, actor Actor, station domain.WorkflowStep) (bool, error) {
	it, ok, err := e.lookup(ctx, itemID, "start")
	if !ok || err != nil {
		return false, err
	}
	if !e.stationMatches(it, station, actor, "start") {
		return false, nil
	}
	if it.OnHold {
		e.logger().Warn("start rejected: item on hold", "item", it.ID, "reason", it.HoldReason)
		return false, nil
	}
	if it.Status != domain.StatusPending {
		e.logger().Warn("start rejected: not pending", "item", it.ID, "status", it.Status)
		return false, nil
	}
	entry := e.newEntry(it, domain.ActionStarted, actor, station, "")
	it.Status = domain.StatusInProgress
	it.UpdatedAt = e.Clock().UTC()
	if err := e.apply(ctx, it, entry); err != nil {
		return false, err
	}
	return true, nil
}

// CanCompleteStep is the pure completion guard.
func (e Engine) CanCompleteStep(it domain.WorkItem) bool {
	return !it.OnHold && it.Status == domain.StatusInProgress
}

// CompleteStep finishes the current step. The audit entry records the step
// being completed; the item then advances to the next station as Pending, or
// becomes Completed at the terminal step.
func (e Engine) CompleteStep(ctx context.Context, itemID string, actor Actor, station domain.WorkflowStep) (bool, error) {
	it, ok, err := e.lookup(ctx, itemID, "complete")
	if !ok || err != nil {
		return false, err
	}
	if !e.stationMatches(it, station, actor, "complete") {
		return false, nil
	}
	if !e.CanCompleteStep(it) {
		e.logger().Warn("complete rejected", "item", it.ID, "status", it.Status, "on_hold", it.OnHold)
		return false, nil
	}
	entry := e.newEntry(it, domain.ActionCompleted, actor, station, "")
	if next, ok := it.CurrentStep.Next(); ok {
		it.CurrentStep = next
		it.Status = domain.StatusPending
	} else {
		it.Status = domain.StatusCompleted
	}
	it.UpdatedAt = e.Clock().UTC()
	if err := e.apply(ctx, it, entry); err != nil {
		return false, err
	}
	return true, nil
}

// PlaceOnHold blocks forward progress of an item. Holding an already-held
// item is a no-op returning false.
func (e Engine) PlaceOnHold(ctx context.Context, itemID string, reason domain.HoldReason, actor Actor) (bool, error) {
	it, ok, err := e.lookup(ctx, itemID, "hold")
	if !ok || err != nil {
		return false, err
	}
	if _, ok := domain.ParseHoldReason(string(reason)); !ok {
		e.logger().Warn("hold rejected: unknown reason", "item", it.ID, "reason", reason)
		return false, nil
	}
	if it.OnHold {
		e.logger().Warn("hold rejected: already held", "item", it.ID, "reason", it.HoldReason)
		return false, nil
	}
	entry := e.newEntry(it, domain.ActionPlacedOnHold, actor, "", fmt.Sprintf("Reason: %s", reason))
	now := e.Clock().UTC()
	it.OnHold = true
	it.HoldReason = reason
	it.HoldTimestamp = &now
	it.UpdatedAt = now
	if err := e.apply(ctx, it, entry); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseHold clears a hold. Releasing a non-held item is a no-op returning
// false.
func (e Engine) ReleaseHold(ctx context.Context, itemID string, actor Actor) (bool, error) {
	it, ok, err := e.lookup(ctx, itemID, "release")
	if !ok || err != nil {
		return false, err
	}
	if !it.OnHold {
		e.logger().Warn("release rejected: not on hold", "item", it.ID)
		return false, nil
	}
	entry := e.newEntry(it, domain.ActionReleasedHold, actor, "", fmt.Sprintf("Was held for: %s", it.HoldReason))
	it.OnHold = false
	it.HoldReason = ""
	it.HoldTimestamp = nil
	it.UpdatedAt = e.Clock().UTC()
	if err := e.apply(ctx, it, entry); err != nil {
		return false, err
	}
	return true, nil
}

// SendToRework returns an item to the first station. Deliberately
// unconditional beyond existence: any actor may send any item back,
// regardless of its current step, status or hold state. The audit entry
// records the step the item left, not Saw.
func (e Engine) SendToRework(ctx context.Context, itemID string, actor Actor, notes string) (bool, error) {
	it, ok, err := e.lookup(ctx, itemID, "rework")
	if !ok || err != nil {
		return false, err
	}
	previous := it.CurrentStep
	if notes == "" {
		notes = fmt.Sprintf("Returned from %s to %s for rework", previous, domain.Steps[0])
	}
	entry := e.newEntry(it, domain.ActionSentToRework, actor, "", notes)
	it.CurrentStep = domain.Steps[0]
	it.Status = domain.StatusPending
	it.OnHold = false
	it.HoldReason = ""
	it.HoldTimestamp = nil
	it.UpdatedAt = e.Clock().UTC()
	if err := e.apply(ctx, it, entry); err != nil {
		return false, err
	}
	return true, nil
}

// PassQC moves an item from QC straight to Ship. Checklist completion is the
// caller's responsibility; the engine only checks position and hold state.
func (e Engine) PassQC(ctx context.Context, itemID string, actor Actor) (bool, error) {
	it, ok, err := e.lookup(ctx, itemID, "qc-pass")
	if !ok || err != nil {
		return false, err
	}
	if it.CurrentStep != domain.StepQC {
		e.logger().Warn("qc pass rejected: not at QC", "item", it.ID, "current_step", it.CurrentStep)
		return false, nil
	}
	if it.OnHold {
		e.logger().Warn("qc pass rejected: item on hold", "item", it.ID, "reason", it.HoldReason)
		return false, nil
	}
	entry := e.newEntry(it, domain.ActionPassedQC, actor, "", "")
	it.CurrentStep = domain.StepShip
	it.Status = domain.StatusPending
	it.UpdatedAt = e.Clock().UTC()
	if err := e.apply(ctx, it, entry); err != nil {
		return false, err
	}
	return true, nil
}

// FailQC places an item at QC on hold. Unlike PlaceOnHold it does not reject
// already-held items; being at QC is the only gate, and the action label is
// Failed QC.
func (e Engine) FailQC(ctx context.Context, itemID string, reason domain.HoldReason, actor Actor) (bool, error) {
	it, ok, err := e.lookup(ctx, itemID, "qc-fail")
	if !ok || err != nil {
		return false, err
	}
	if it.CurrentStep != domain.StepQC {
		e.logger().Warn("qc fail rejected: not at QC", "item", it.ID, "current_step", it.CurrentStep)
		return false, nil
	}
	if _, ok := domain.ParseHoldReason(string(reason)); !ok {
		e.logger().Warn("qc fail rejected: unknown reason", "item", it.ID, "reason", reason)
		return false, nil
	}
	entry := e.newEntry(it, domain.ActionFailedQC, actor, "", fmt.Sprintf("Reason: %s", reason))
	now := e.Clock().UTC()
	it.OnHold = true
	it.HoldReason = reason
	it.HoldTimestamp = &now
	it.UpdatedAt = now
	if err := e.apply(ctx, it, entry); err != nil {
		return false, err
	}
	return true, nil
}

// CanShipItem is the pure ship guard.
func (e Engine) CanShipItem(it domain.WorkItem) ShipCheck {
	if it.CurrentStep != domain.StepShip {
		return ShipCheck{Reason: fmt.Sprintf("Item is at %s, not ready for shipping", it.CurrentStep)}
	}
	if it.OnHold {
		return ShipCheck{Reason: "QC HOLD ACTIVE"}
	}
	if it.Status == domain.StatusCompleted {
		return ShipCheck{Reason: "Item already shipped"}
	}
	return ShipCheck{CanShip: true}
}

// ShipItem completes the terminal step.
func (e Engine) ShipItem(ctx context.Context, itemID string, actor Actor, station domain.WorkflowStep) (bool, error) {
	it, ok, err := e.lookup(ctx, itemID, "ship")
	if !ok || err != nil {
		return false, err
	}
	if station != domain.StepShip {
		e.logger().Warn("process violation: station mismatch",
			"op", "ship", "item", it.ID, "station", station, "current_step", it.CurrentStep, "actor", actor.ID)
		return false, nil
	}
	if check := e.CanShipItem(it); !check.CanShip {
		e.logger().Warn("ship rejected", "item", it.ID, "reason", check.Reason)
		return false, nil
	}
	entry := e.newEntry(it, domain.ActionShipped, actor, station, "")
	it.Status = domain.StatusCompleted
	it.UpdatedAt = e.Clock().UTC()
	if err := e.apply(ctx, it, entry); err != nil {
		return false, err
	}
	return true, nil
}

// AddNewItem registers a work item at the first station. Items without an
// order land in the synthetic General Stock order; an unknown order id gets a
// placeholder order so intake never blocks on order entry. Duplicate ids are
// rejected without mutation.
func (e Engine) AddNewItem(ctx context.Context, itemID string, actor Actor, opts IntakeOptions) (domain.WorkItem, bool, error) {
	if itemID == "" {
		return domain.WorkItem{}, false, nil
	}
	if _, err := e.Repo.GetItem(ctx, itemID); err == nil {
		e.logger().Warn("intake rejected: duplicate item id", "item", itemID)
		return domain.WorkItem{}, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.WorkItem{}, false, err
	}

	now := e.Clock().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, false, err
	}
	defer tx.Rollback()

	orderID, err := e.resolveOrder(ctx, tx, opts.OrderID, now)
	if err != nil {
		return domain.WorkItem{}, false, err
	}

	if opts.Quantity <= 0 {
		opts.Quantity = 1
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	name := opts.Name
	if name == "" {
		name = itemID
	}
	it := domain.WorkItem{
		ID:          itemID,
		OrderID:     orderID,
		Name:        name,
		Description: opts.Description,
		Quantity:    opts.Quantity,
		CurrentStep: domain.Steps[0],
		Status:      domain.StatusPending,
		Priority:    opts.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
		return domain.WorkItem{}, false, err
	}
	if err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		ID:        uuid.NewString(),
		ItemID:    it.ID,
		Timestamp: now,
		Step:      it.CurrentStep,
		Action:    domain.ActionCreated,
		ActorID:   actor.ID,
		ActorName: e.actorName(actor),
	}); err != nil {
		return domain.WorkItem{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, false, err
	}
	return it, true, nil
}

// resolveOrder maps an intake order reference onto an existing order,
// creating the General Stock order or an unverified placeholder as needed.
func (e Engine) resolveOrder(ctx context.Context, tx *sql.Tx, orderID string, now time.Time) (string, error) {
	if orderID == "" {
		orderID = domain.GeneralStockOrderID
		_, err := e.Repo.GetOrderTx(ctx, tx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			err = e.Repo.InsertOrderTx(ctx, tx, domain.Order{
				ID:           orderID,
				CustomerName: "General Stock",
				OrderNumber:  orderID,
				CreatedAt:    now,
			})
		}
		return orderID, err
	}
	_, err := e.Repo.GetOrderTx(ctx, tx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		e.logger().Warn("intake references unknown order; creating placeholder", "order", orderID)
		err = e.Repo.InsertOrderTx(ctx, tx, domain.Order{
			ID:           orderID,
			CustomerName: "Unverified Order",
			OrderNumber:  orderID,
			CreatedAt:    now,
		})
	}
	return orderID, err
}

// HeldItem pairs a held work item with its escalation classification.
type HeldItem struct {
	Item    domain.WorkItem     `json:"item"`
	HoldAge time.Duration       `json:"hold_age_ns"`
	Class   domain.HoldAgeClass `json:"class"`
}

// HeldItems lists items currently on hold, classified against the configured
// aging threshold.
func (e Engine) HeldItems(ctx context.Context) ([]HeldItem, error) {
	onHold := true
	items, err := e.Repo.ListItems(ctx, domain.WorkItemFilter{OnHold: &onHold})
	if err != nil {
		return nil, err
	}
	threshold := e.Config.AgingThreshold()
	now := e.Clock()
	held := make([]HeldItem, 0, len(items))
	for _, it := range items {
		age := it.HoldAge(now)
		held = append(held, HeldItem{Item: it, HoldAge: age, Class: domain.ClassifyHoldAge(age, threshold)})
	}
	return held, nil
}
