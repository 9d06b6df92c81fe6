// Package sequence allocates per-organization, per-day invoice numbers.
//
// The counter lives in its own row and is bumped with an atomic upsert
// inside the caller's transaction, so concurrent creates on different
// service instances cannot observe the same value. The unique index on
// (org_id, invoice_number) remains as a backstop.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Allocator struct{}

func New() *Allocator {
	return &Allocator{}
}

// Next atomically increments the counter for (orgID, day) and returns the
// new value. Must run inside the same transaction that inserts the
// invoice so an aborted create releases the number's uniqueness window.
func (a *Allocator) Next(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, day time.Time) (int64, error) {
	key := DayKey(day)

	err := tx.WithContext(ctx).Exec(upsertSQL(tx.Dialector.Name()), orgID, key).Error
	if err != nil {
		return 0, err
	}

	var value int64
	err = tx.WithContext(ctx).Raw(
		`SELECT value FROM invoice_counters WHERE org_id = ? AND day = ?`,
		orgID,
		key,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, fmt.Errorf("invoice counter missing for org %s day %s", orgID, key)
	}
	return value, nil
}

// upsertSQL picks the counter increment statement per dialect. MySQL has
// no ON CONFLICT clause.
func upsertSQL(dialect string) string {
	if dialect == "mysql" {
		return `INSERT INTO invoice_counters (org_id, day, value)
		 VALUES (?, ?, 1)
		 ON DUPLICATE KEY UPDATE value = value + 1`
	}
	return `INSERT INTO invoice_counters (org_id, day, value)
	 VALUES (?, ?, 1)
	 ON CONFLICT (org_id, day) DO UPDATE SET value = invoice_counters.value + 1`
}

// FormatNumber renders the human-facing invoice number, INV-YYYYMMDD-NNNN.
// Sequences beyond 9999 widen naturally rather than wrapping.
func FormatNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%04d", day.Format("20060102"), seq)
}

// DayKey is the counter row key for the server-local calendar day.
func DayKey(day time.Time) string {
	return day.Format("2006-01-02")
}
