package ledger

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"brokerdesk/api/internal/dates"
	"brokerdesk/api/internal/sources"

	"github.com/shopspring/decimal"
)

// Record fields owned by the ledger.
const (
	FieldCurrentIndex  = "pago_actual"
	FieldNextDueDate   = "fecha_proximo_pago"
	FieldEntries       = "pagos"
	FieldPaymentStatus = "estado_pago"
)

// Entry is one touched installment. Installments without an entry are unpaid.
type Entry struct {
	Number   int                 `json:"numero"`
	Paid     bool                `json:"pagado"`
	PaidDate dates.CanonicalDate `json:"fecha_pago,omitzero"`
}

// Policy is the ledger's view of one installment-billed record.
type Policy struct {
	Collection     string
	ID             string
	Revision       int64
	FrequencyCode  string
	FrequencyField string
	Start          dates.CanonicalDate
	Premium        decimal.Decimal
	CurrentIndex   int
	NextDueDate    dates.CanonicalDate
	Entries        []Entry
}

// PolicyFromFields reads the ledger state out of a raw record.
func PolicyFromFields(collection, id string, revision int64, fields map[string]any, aliases sources.Fields) Policy {
	p := Policy{
		Collection:   collection,
		ID:           id,
		Revision:     revision,
		CurrentIndex: 1,
	}
	for _, key := range aliases.Frequency {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			p.FrequencyCode = strings.TrimSpace(s)
			p.FrequencyField = key
			break
		}
	}
	if p.FrequencyField == "" && len(aliases.Frequency) > 0 {
		p.FrequencyField = aliases.Frequency[0]
	}
	p.Start, _ = dates.Normalize(sources.FirstValue(fields, aliases.Start))
	if amount, ok := ParseAmount(sources.FirstValue(fields, aliases.Premium)); ok {
		p.Premium = amount
	}
	if idx, ok := intValue(fields[FieldCurrentIndex]); ok && idx >= 1 {
		p.CurrentIndex = idx
	}
	p.NextDueDate, _ = dates.Normalize(fields[FieldNextDueDate])
	p.Entries = parseEntries(fields[FieldEntries])
	return p
}

func (p Policy) Frequency() Frequency {
	f, _ := LookupFrequency(p.FrequencyCode)
	return f
}

func (p Policy) InstallmentCount() int { return p.Frequency().Count }

func (p Policy) IntervalMonths() int { return p.Frequency().IntervalMonths }

// Entry returns the entry for installment n, if one was ever touched.
func (p Policy) Entry(n int) (Entry, bool) {
	for _, e := range p.Entries {
		if e.Number == n {
			return e, true
		}
	}
	return Entry{}, false
}

func (p Policy) index() int {
	if p.CurrentIndex < 1 {
		return 1
	}
	return p.CurrentIndex
}

func (p Policy) clone() Policy {
	cp := p
	cp.Entries = slices.Clone(p.Entries)
	return cp
}

func (p *Policy) upsertEntry(e Entry) {
	for i := range p.Entries {
		if p.Entries[i].Number == e.Number {
			p.Entries[i] = e
			return
		}
	}
	p.Entries = append(p.Entries, e)
	slices.SortFunc(p.Entries, func(a, b Entry) int { return a.Number - b.Number })
}

type rawEntry struct {
	Number   any  `json:"numero"`
	Paid     bool `json:"pagado"`
	PaidDate any  `json:"fecha_pago"`
}

// parseEntries accepts the list as decoded from JSONB or as a JSON string.
// Malformed items are dropped rather than failing the whole record.
func parseEntries(raw any) []Entry {
	if raw == nil {
		return nil
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		data = encoded
	}
	var items []rawEntry
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		n, ok := intValue(item.Number)
		if !ok || n < 1 {
			continue
		}
		paidDate, _ := dates.Normalize(item.PaidDate)
		entries = append(entries, Entry{Number: n, Paid: item.Paid, PaidDate: paidDate})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.Number - b.Number })
	return entries
}

func intValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}
