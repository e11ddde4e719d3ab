package reports

import (
	"brokerdesk/api/internal/dates"
	"brokerdesk/api/internal/ledger"
)

type ReminderKind string

const (
	ReminderFirst  ReminderKind = "first"
	ReminderSecond ReminderKind = "second"
	ReminderFinal  ReminderKind = "final"
)

func (k ReminderKind) Label() string {
	switch k {
	case ReminderFirst:
		return "Primer Recordatorio"
	case ReminderSecond:
		return "Segundo Recordatorio"
	default:
		return "Recordatorio Final"
	}
}

// Reminder is one notice to send ahead of a due date.
type Reminder struct {
	Kind       ReminderKind        `json:"kind"`
	Date       dates.CanonicalDate `json:"date"`
	DaysBefore int                 `json:"daysBefore"`
}

var (
	reminderOffsets = map[string][3]int{
		ledger.Annual.Name:     {30, 15, 3},
		ledger.Semiannual.Name: {21, 7, 1},
		ledger.Quarterly.Name:  {14, 7, 1},
		ledger.Bimonthly.Name:  {10, 3, 1},
		ledger.Monthly.Name:    {7, 3, 1},
	}
	defaultOffsets = [3]int{15, 7, 1}
)

// ReminderOffsets returns the days-before schedule for a frequency code.
// Unknown codes and four-month billing use the default schedule.
func ReminderOffsets(frequency string) [3]int {
	f, ok := ledger.LookupFrequency(frequency)
	if !ok {
		return defaultOffsets
	}
	if offsets, found := reminderOffsets[f.Name]; found {
		return offsets
	}
	return defaultOffsets
}

// Reminders lists the reminder dates before due, oldest first, dropping any
// that fall before today.
func Reminders(due dates.CanonicalDate, frequency string, today dates.CanonicalDate) []Reminder {
	if !due.IsKnown() {
		return []Reminder{}
	}
	kinds := [3]ReminderKind{ReminderFirst, ReminderSecond, ReminderFinal}
	offsets := ReminderOffsets(frequency)
	out := make([]Reminder, 0, len(offsets))
	for i, days := range offsets {
		date := due.AddDays(-days)
		if today.IsKnown() && date.Before(today) {
			continue
		}
		out = append(out, Reminder{Kind: kinds[i], Date: date, DaysBefore: days})
	}
	return out
}
