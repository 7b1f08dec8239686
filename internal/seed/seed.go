// Package seed loads the bootstrap dataset. The fixture is decoded into
// typed records and rebuilt field by field with live time values; nothing is
// structurally cloned from the raw document.
package seed

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"cyclone/internal/audit"
	"cyclone/internal/config"
	"cyclone/internal/domain"
	"cyclone/internal/repo"
)

//go:embed fixture.yml
var defaultFixture []byte

type fixtureFile struct {
	Orders []fixtureOrder `yaml:"orders"`
}

type fixtureOrder struct {
	ID             string        `yaml:"id"`
	CustomerName   string        `yaml:"customer_name"`
	OrderNumber    string        `yaml:"order_number"`
	DueInDays      int           `yaml:"due_in_days"`
	CreatedDaysAgo int           `yaml:"created_days_ago"`
	Items          []fixtureItem `yaml:"items"`
}

type fixtureItem struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Quantity    int            `yaml:"quantity"`
	CurrentStep string         `yaml:"current_step"`
	Status      string         `yaml:"status"`
	Priority    string         `yaml:"priority"`
	OnHold      bool           `yaml:"on_hold"`
	HoldReason  string         `yaml:"hold_reason"`
	HeldDaysAgo int            `yaml:"held_days_ago"`
	Audit       []fixtureAudit `yaml:"audit"`
}

type fixtureAudit struct {
	Step    string `yaml:"step"`
	Action  string `yaml:"action"`
	Actor   string `yaml:"actor"`
	DaysAgo int    `yaml:"days_ago"`
	Notes   string `yaml:"notes"`
}

// IsEmpty reports whether the workspace holds no orders yet.
func IsEmpty(ctx context.Context, r repo.Repo) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

// LoadDefault inserts the embedded demo dataset.
func LoadDefault(ctx context.Context, db *sql.DB, cfg *config.Config, now time.Time) error {
	return Load(ctx, db, cfg, defaultFixture, now)
}

// Load parses and inserts a fixture document. Day offsets in the document
// are resolved against now so the dataset ages correctly.
func Load(ctx context.Context, db *sql.DB, cfg *config.Config, data []byte, now time.Time) error {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid fixture yaml: %w", err)
	}
	r := repo.Repo{DB: db}
	writer := audit.Writer{DB: db}
	now = now.UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, fo := range f.Orders {
		if fo.ID == "" {
			return fmt.Errorf("fixture order missing id")
		}
		o := domain.Order{
			ID:           fo.ID,
			CustomerName: fo.CustomerName,
			OrderNumber:  fo.OrderNumber,
			DueDate:      now.AddDate(0, 0, fo.DueInDays),
			CreatedAt:    now.AddDate(0, 0, -fo.CreatedDaysAgo),
		}
		if err := r.InsertOrderTx(ctx, tx, o); err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
		for n, fi := range fo.Items {
			it, err := buildItem(fo, fi, n+1, now)
			if err != nil {
				return err
			}
			if err := r.InsertItemTx(ctx, tx, it); err != nil {
				return fmt.Errorf("item %s: %w", it.ID, err)
			}
			// Fixture audit lists are oldest first; insertion order is the
			// chronological storage order.
			for _, fa := range fi.Audit {
				step, ok := domain.ParseStep(fa.Step)
				if !ok {
					return fmt.Errorf("item %s: unknown audit step %q", it.ID, fa.Step)
				}
				entry := domain.AuditEntry{
					ID:        uuid.NewString(),
					ItemID:    it.ID,
					Timestamp: now.AddDate(0, 0, -fa.DaysAgo),
					Step:      step,
					Action:    domain.AuditAction(fa.Action),
					ActorID:   fa.Actor,
					ActorName: cfg.UserName(fa.Actor),
					Notes:     fa.Notes,
				}
				if err := writer.Append(ctx, tx, entry); err != nil {
					return fmt.Errorf("item %s audit: %w", it.ID, err)
				}
			}
		}
	}
	return tx.Commit()
}

func buildItem(fo fixtureOrder, fi fixtureItem, n int, now time.Time) (domain.WorkItem, error) {
	id := fmt.Sprintf("%s-ITEM-%03d", fo.ID, n)
	step, ok := domain.ParseStep(fi.CurrentStep)
	if !ok {
		return domain.WorkItem{}, fmt.Errorf("item %s: unknown step %q", id, fi.CurrentStep)
	}
	status, ok := domain.ParseStatus(fi.Status)
	if !ok {
		return domain.WorkItem{}, fmt.Errorf("item %s: unknown status %q", id, fi.Status)
	}
	priority := domain.PriorityNormal
	if fi.Priority != "" {
		if priority, ok = domain.ParsePriority(fi.Priority); !ok {
			return domain.WorkItem{}, fmt.Errorf("item %s: unknown priority %q", id, fi.Priority)
		}
	}
	quantity := fi.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	it := domain.WorkItem{
		ID:          id,
		OrderID:     fo.ID,
		Name:        fi.Name,
		Description: fi.Description,
		Quantity:    quantity,
		CurrentStep: step,
		Status:      status,
		Priority:    priority,
		CreatedAt:   now.AddDate(0, 0, -fo.CreatedDaysAgo),
		UpdatedAt:   now,
	}
	if fi.OnHold {
		reason, ok := domain.ParseHoldReason(fi.HoldReason)
		if !ok {
			return domain.WorkItem{}, fmt.Errorf("item %s: unknown hold reason %q", id, fi.HoldReason)
		}
		held := now.AddDate(0, 0, -fi.HeldDaysAgo)
		it.OnHold = true
		it.HoldReason = reason
		it.HoldTimestamp = &held
	}
	return it, nil
}
