package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/nautilabs/nautifier/internal/store"
)

// PGLeaveLedger implements store.LeaveLedger. This replaces the spreadsheet
// the leave channel used to write to; rows are keyed by (event_id, seq) so a
// retried handler attempt lands on the same row instead of booking twice.
type PGLeaveLedger struct {
	db *sql.DB
}

func NewPGLeaveLedger(db *sql.DB) *PGLeaveLedger {
	return &PGLeaveLedger{db: db}
}

func (l *PGLeaveLedger) Append(ctx context.Context, e store.LeaveEntry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO leave_entries
			(event_id, seq, employee_name, leave_type, from_date, to_date, num_days, reason, status, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'UPCOMING', $9)
		ON CONFLICT (event_id, seq) DO NOTHING
	`, e.EventID, e.Seq, e.EmployeeName, e.LeaveType, e.FromDate, e.ToDate, e.NumDays, e.Reason, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("append leave entry: %w", err)
	}
	return nil
}

// Cancel deletes a matching leave unless it has already been redeemed.
func (l *PGLeaveLedger) Cancel(ctx context.Context, employeeName, fromDate, toDate string) (bool, string, error) {
	var status string
	err := l.db.QueryRowContext(ctx, `
		SELECT status FROM leave_entries
		WHERE employee_name = $1 AND from_date = $2 AND to_date = $3
		ORDER BY recorded_at DESC
		LIMIT 1
	`, employeeName, fromDate, toDate).Scan(&status)
	if err == sql.ErrNoRows {
		return false, "No matching leave found to cancel.", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("lookup leave: %w", err)
	}
	if status == "REDEEMED" {
		return false, "Cannot cancel a past leave (status: REDEEMED).", nil
	}

	_, err = l.db.ExecContext(ctx, `
		DELETE FROM leave_entries
		WHERE employee_name = $1 AND from_date = $2 AND to_date = $3 AND status <> 'REDEEMED'
	`, employeeName, fromDate, toDate)
	if err != nil {
		return false, "", fmt.Errorf("cancel leave: %w", err)
	}
	return true, fmt.Sprintf("Leave from %s to %s has been cancelled.", fromDate, toDate), nil
}

// PGArticleLedger implements store.ArticleLedger.
type PGArticleLedger struct {
	db *sql.DB
}

func NewPGArticleLedger(db *sql.DB) *PGArticleLedger {
	return &PGArticleLedger{db: db}
}

func (l *PGArticleLedger) Append(ctx context.Context, a store.Article) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO articles (event_id, url, tags, submitted_by, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, a.EventID, a.URL, pq.Array(a.Tags), a.SubmittedBy, a.SubmittedAt)
	if err != nil {
		return fmt.Errorf("append article: %w", err)
	}
	return nil
}
