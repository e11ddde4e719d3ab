package store

import "time"

// Record is one raw policy document from one line-of-business collection.
// Fields holds the document exactly as stored; Revision increases on every
// write and guards ledger updates.
type Record struct {
	ID         string
	Collection string
	Fields     map[string]any
	Revision   int64
	UpdatedAt  time.Time
}

// LedgerEvent is an append-only audit row written with every ledger delta.
type LedgerEvent struct {
	ID           int64     `json:"id"`
	Collection   string    `json:"collection"`
	RecordID     string    `json:"recordId"`
	Operation    string    `json:"operation"`
	CurrentIndex int       `json:"currentIndex"`
	NextDueDate  string    `json:"nextDueDate"`
	Revision     int64     `json:"revision"`
	CreatedAt    time.Time `json:"createdAt"`
}
