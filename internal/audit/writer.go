package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"cyclone/internal/domain"
)

// Writer appends audit entries inside the transaction that carries the item
// mutation they document. Entries are never updated or deleted.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts one entry. ID and Timestamp are filled when unset so the
// engine can hand over partially built entries.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		now := w.Now
		if now == nil {
			now = time.Now
		}
		e.Timestamp = now()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_entries(id,item_id,ts,step,action,actor_id,actor_name,station,notes) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ItemID, e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Step), string(e.Action), e.ActorID, e.ActorName,
		nullable(string(e.Station)), nullable(e.Notes))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
