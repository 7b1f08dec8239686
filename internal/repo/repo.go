package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cyclone/internal/domain"
)

// Repo reads and writes the order/item table. All mutations are expected to
// arrive through the engine; nothing else writes these rows.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// --- orders ---

func (r Repo) InsertOrderTx(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orders(id,customer_name,order_number,due_date,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.CustomerName, o.OrderNumber, nullableTime(o.DueDate), formatTime(o.CreatedAt))
	return err
}

func (r Repo) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO orders(id,customer_name,order_number,due_date,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.CustomerName, o.OrderNumber, nullableTime(o.DueDate), formatTime(o.CreatedAt))
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func scanOrder(scan func(...any) error) (domain.Order, error) {
	var o domain.Order
	var due sql.NullString
	var created string
	if err := scan(&o.ID, &o.CustomerName, &o.OrderNumber, &due, &created); err != nil {
		if err == sql.ErrNoRows {
			return o, ErrNotFound
		}
		return o, err
	}
	var err error
	if due.Valid {
		if o.DueDate, err = parseTime(due.String); err != nil {
			return o, err
		}
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return o, err
	}
	return o, nil
}

const orderColumns = `id,customer_name,order_number,due_date,created_at`

// GetOrder returns one order without its items.
func (r Repo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	return scanOrder(row.Scan)
}

// GetOrderTx is GetOrder inside an open transaction. Callers holding a
// transaction must read through it: the pool is capped at one connection, so
// a pool read while a transaction is open would wait on itself.
func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	return scanOrder(row.Scan)
}

// GetOrderWithItems returns one order with its items in intake order.
func (r Repo) GetOrderWithItems(ctx context.Context, id string) (domain.Order, error) {
	o, err := r.GetOrder(ctx, id)
	if err != nil {
		return o, err
	}
	o.Items, err = r.itemsForOrder(ctx, o.ID)
	return o, err
}

// ListOrders returns all orders with their items, oldest order first.
func (r Repo) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].Items, err = r.itemsForOrder(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// ReadyToShipOrders returns orders whose every item is at Ship and not held.
func (r Repo) ReadyToShipOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := r.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	var ready []domain.Order
	for _, o := range orders {
		if o.ReadyToShip() {
			ready = append(ready, o)
		}
	}
	return ready, nil
}

// --- work items ---

const itemColumns = `id,order_id,name,description,quantity,current_step,status,on_hold,hold_reason,hold_timestamp,priority,created_at,updated_at`

func scanItem(scan func(...any) error) (domain.WorkItem, error) {
	var it domain.WorkItem
	var desc, holdReason, holdTS sql.NullString
	var onHold int
	var step, status, priority, created, updated string
	if err := scan(&it.ID, &it.OrderID, &it.Name, &desc, &it.Quantity, &step, &status,
		&onHold, &holdReason, &holdTS, &priority, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return it, ErrNotFound
		}
		return it, err
	}
	it.Description = desc.String
	it.CurrentStep = domain.WorkflowStep(step)
	it.Status = domain.ItemStatus(status)
	it.OnHold = onHold != 0
	it.HoldReason = domain.HoldReason(holdReason.String)
	if holdTS.Valid && holdTS.String != "" {
		ts, err := parseTime(holdTS.String)
		if err != nil {
			return it, err
		}
		it.HoldTimestamp = &ts
	}
	it.Priority = domain.Priority(priority)
	var err error
	if it.CreatedAt, err = parseTime(created); err != nil {
		return it, err
	}
	if it.UpdatedAt, err = parseTime(updated); err != nil {
		return it, err
	}
	return it, nil
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.OrderID, it.Name, nullable(it.Description), it.Quantity,
		string(it.CurrentStep), string(it.Status), boolToInt(it.OnHold),
		nullable(string(it.HoldReason)), nullableTimePtr(it.HoldTimestamp),
		string(it.Priority), formatTime(it.CreatedAt), formatTime(it.UpdatedAt))
	return err
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpdateItemTx writes back every mutable field of a work item.
func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.WorkItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET current_step=?,status=?,on_hold=?,hold_reason=?,hold_timestamp=?,priority=?,updated_at=? WHERE id=?`,
		string(it.CurrentStep), string(it.Status), boolToInt(it.OnHold),
		nullable(string(it.HoldReason)), nullableTimePtr(it.HoldTimestamp),
		string(it.Priority), formatTime(it.UpdatedAt), it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetItem returns one work item without audit history.
func (r Repo) GetItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id=?`, id)
	return scanItem(row.Scan)
}

// GetItemWithHistory returns one work item with its audit history in
// chronological storage order.
func (r Repo) GetItemWithHistory(ctx context.Context, id string) (domain.WorkItem, error) {
	it, err := r.GetItem(ctx, id)
	if err != nil {
		return it, err
	}
	it.AuditHistory, err = r.AuditHistory(ctx, id)
	return it, err
}

func (r Repo) itemsForOrder(ctx context.Context, orderID string) ([]domain.WorkItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE order_id=? ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]domain.WorkItem, error) {
	var items []domain.WorkItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListItems returns work items matching the filter across all orders.
func (r Repo) ListItems(ctx context.Context, f domain.WorkItemFilter) ([]domain.WorkItem, error) {
	var (
		where []string
		args  []any
	)
	if f.Step != nil {
		where = append(where, "current_step=?")
		args = append(args, string(*f.Step))
	}
	if f.Status != nil {
		where = append(where, "status=?")
		args = append(args, string(*f.Status))
	}
	if f.OnHold != nil {
		where = append(where, "on_hold=?")
		args = append(args, boolToInt(*f.OnHold))
	}
	query := `SELECT ` + itemColumns + ` FROM work_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if f.Search == "" {
		return items, nil
	}
	filtered := items[:0]
	for _, it := range items {
		if f.Matches(it) {
			filtered = append(filtered, it)
		}
	}
	return filtered, nil
}

// --- audit history ---

// AuditHistory returns an item's entries in chronological storage order.
func (r Repo) AuditHistory(ctx context.Context, itemID string) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,ts,step,action,actor_id,actor_name,station,notes FROM audit_entries WHERE item_id=? ORDER BY seq`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var ts string
		var station, notes sql.NullString
		if err := rows.Scan(&e.ID, &e.ItemID, &ts, &e.Step, &e.Action, &e.ActorID, &e.ActorName, &station, &notes); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Station = domain.WorkflowStep(station.String)
		e.Notes = notes.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountAuditEntries returns the number of entries recorded for an item.
func (r Repo) CountAuditEntries(ctx context.Context, itemID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries WHERE item_id=?`, itemID).Scan(&n)
	return n, err
}

// --- aggregation ---

// Stats aggregates item counts for the supervisor dashboard.
func (r Repo) Stats(ctx context.Context) (domain.DashboardStats, error) {
	stats := domain.DashboardStats{
		ByStatus: make(map[domain.ItemStatus]int),
		ByStep:   make(map[domain.WorkflowStep]int),
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT current_step,status,on_hold,COUNT(*) FROM work_items GROUP BY current_step,status,on_hold`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var step, status string
		var onHold, count int
		if err := rows.Scan(&step, &status, &onHold, &count); err != nil {
			return stats, err
		}
		stats.TotalItems += count
		stats.ByStep[domain.WorkflowStep(step)] += count
		stats.ByStatus[domain.ItemStatus(status)] += count
		if onHold != 0 {
			stats.OnHoldCount += count
		}
	}
	return stats, rows.Err()
}
