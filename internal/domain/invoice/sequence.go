package invoice

import (
	"fmt"
	"time"
)

// InvoiceSequence is the daily invoice counter shared by all tenants
type InvoiceSequence struct {
	Day       string    `db:"day"`
	LastValue int64     `db:"last_value"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SequenceDay formats the counter key for t in UTC
func SequenceDay(t time.Time) string {
	return t.UTC().Format("20060102")
}

// FormatInvoiceNumber renders INV-YYYYMMDD-NNNNN
func FormatInvoiceNumber(day string, seq int64) string {
	return fmt.Sprintf("INV-%s-%05d", day, seq)
}
