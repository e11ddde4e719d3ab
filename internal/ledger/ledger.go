// Package ledger derives and maintains installment payment schedules.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"brokerdesk/api/internal/dates"
	"brokerdesk/api/internal/logging"
	"brokerdesk/api/internal/metrics"
)

var (
	ErrNoInstallments   = errors.New("policy is not billed in installments")
	ErrScheduleComplete = errors.New("installment schedule already complete")
	ErrUnknownStartDate = errors.New("policy start date is unknown")
	ErrUnknownFrequency = errors.New("unknown payment frequency")
)

type Status string

const (
	Paid   Status = "Paid"
	Unpaid Status = "Unpaid"
)

// Label is the value the legacy tables store in estado_pago.
func (s Status) Label() string {
	if s == Paid {
		return "Pagado"
	}
	return "No Pagado"
}

// Delta is the complete ledger change for one record, written as a unit.
type Delta struct {
	Operation     string
	CurrentIndex  int
	NextDueDate   dates.CanonicalDate
	Entries       []Entry
	PaymentStatus Status
	// Revision is the record revision the change was computed from.
	Revision int64
}

// Fields returns the record fields the delta writes.
func (d Delta) Fields() map[string]any {
	var due any
	if d.NextDueDate.IsKnown() {
		due = d.NextDueDate.String()
	}
	entries := d.Entries
	if entries == nil {
		entries = []Entry{}
	}
	return map[string]any{
		FieldCurrentIndex:  d.CurrentIndex,
		FieldNextDueDate:   due,
		FieldEntries:       entries,
		FieldPaymentStatus: d.PaymentStatus.Label(),
	}
}

// Sink persists ledger changes. ApplyLedgerDelta must write every field of the
// delta atomically and return the new record revision.
type Sink interface {
	UpdateField(ctx context.Context, collection, id, field string, value any) (int64, error)
	ApplyLedgerDelta(ctx context.Context, collection, id string, delta Delta) (int64, error)
}

type Options struct {
	Now      func() time.Time
	Location *time.Location
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

type Ledger struct {
	sink    Sink
	now     func() time.Time
	loc     *time.Location
	logger  logging.Logger
	metrics *metrics.Metrics
}

func New(sink Sink, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Ledger{
		sink:    sink,
		now:     opts.Now,
		loc:     opts.Location,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

func (l *Ledger) Today() dates.CanonicalDate {
	return dates.Today(l.now(), l.loc)
}

// HasInstallments reports whether the policy is billed in installments: a
// frequency code is present and it is not annual.
func HasInstallments(p Policy) bool {
	if strings.TrimSpace(p.FrequencyCode) == "" {
		return false
	}
	return !p.Frequency().IsAnnual()
}

// EffectiveDueDate is the stored next due date, or the date derived from the
// start date and current index when none is stored.
func EffectiveDueDate(p Policy) dates.CanonicalDate {
	if p.NextDueDate.IsKnown() {
		return p.NextDueDate
	}
	return p.Start.AddMonths(p.IntervalMonths() * p.index())
}

// StatusAt derives the payment status on day today. A paid flag only counts
// while the due date has not passed; this is the automatic lapse.
func StatusAt(p Policy, today dates.CanonicalDate) Status {
	due := EffectiveDueDate(p)
	if !due.IsKnown() || due.Before(today) {
		return Unpaid
	}
	if p.index() > p.InstallmentCount() {
		return Paid
	}
	if e, ok := p.Entry(p.index()); ok && e.Paid {
		return Paid
	}
	return Unpaid
}

// Status derives the payment status for the current day. Nothing is persisted.
func (l *Ledger) Status(p Policy) Status {
	return StatusAt(p, l.Today())
}

// Lapsed reports whether the current installment was marked paid but its due
// date has since passed without an advance.
func (l *Ledger) Lapsed(p Policy) bool {
	if !HasInstallments(p) || p.index() > p.InstallmentCount() {
		return false
	}
	e, ok := p.Entry(p.index())
	return ok && e.Paid && StatusAt(p, l.Today()) == Unpaid
}

// Advance confirms the current installment: it is marked paid today, the next
// due date is recomputed from the original start date and the index moves on.
// On failure p is left untouched.
func (l *Ledger) Advance(ctx context.Context, p *Policy) error {
	if !HasInstallments(*p) {
		return ErrNoInstallments
	}
	idx := p.index()
	freq := p.Frequency()
	if idx > freq.Count {
		return ErrScheduleComplete
	}
	if !p.Start.IsKnown() {
		return ErrUnknownStartDate
	}

	today := l.Today()
	next := p.clone()
	next.upsertEntry(Entry{Number: idx, Paid: true, PaidDate: today})
	next.NextDueDate = p.Start.AddMonths(freq.IntervalMonths * idx)
	next.CurrentIndex = idx + 1

	if err := l.apply(ctx, "advance", p, &next, today); err != nil {
		return fmt.Errorf("advance installment %d: %w", idx, err)
	}
	*p = next
	l.logger.Info("installment advanced", "collection", p.Collection, "id", p.ID, "installment", idx, "next_due", p.NextDueDate.String())
	return nil
}

// Toggle flips the paid flag of the current installment only. The index and
// next due date are left as they are, so unpaying does not undo an advance.
func (l *Ledger) Toggle(ctx context.Context, p *Policy) error {
	if !HasInstallments(*p) {
		return ErrNoInstallments
	}
	idx := p.index()
	if idx > p.InstallmentCount() {
		return ErrScheduleComplete
	}

	today := l.Today()
	next := p.clone()
	entry, _ := next.Entry(idx)
	entry.Number = idx
	if entry.Paid {
		entry.Paid = false
		entry.PaidDate = dates.CanonicalDate{}
	} else {
		entry.Paid = true
		entry.PaidDate = today
	}
	next.upsertEntry(entry)

	if err := l.apply(ctx, "toggle", p, &next, today); err != nil {
		return fmt.Errorf("toggle installment %d: %w", idx, err)
	}
	*p = next
	l.logger.Info("installment toggled", "collection", p.Collection, "id", p.ID, "installment", idx, "paid", entry.Paid)
	return nil
}

// SetFrequency changes the payment frequency code. Count and interval follow
// from the new code; the stored index and entries are kept.
func (l *Ledger) SetFrequency(ctx context.Context, p *Policy, code string) error {
	freq, ok := LookupFrequency(code)
	if !ok {
		return fmt.Errorf("set frequency %q: %w", code, ErrUnknownFrequency)
	}
	field := p.FrequencyField
	if field == "" {
		field = "forma_pago"
	}
	rev, err := l.sink.UpdateField(ctx, p.Collection, p.ID, field, freq.Label)
	l.metrics.LedgerOperation("set_frequency", err)
	if err != nil {
		return fmt.Errorf("set frequency: %w", err)
	}
	p.FrequencyCode = freq.Label
	p.FrequencyField = field
	p.Revision = rev
	return nil
}

func (l *Ledger) apply(ctx context.Context, op string, current, next *Policy, today dates.CanonicalDate) error {
	delta := Delta{
		Operation:     op,
		CurrentIndex:  next.CurrentIndex,
		NextDueDate:   next.NextDueDate,
		Entries:       next.Entries,
		PaymentStatus: StatusAt(*next, today),
		Revision:      current.Revision,
	}
	rev, err := l.sink.ApplyLedgerDelta(ctx, current.Collection, current.ID, delta)
	l.metrics.LedgerOperation(op, err)
	if err != nil {
		l.logger.Warn("ledger write failed", "operation", op, "collection", current.Collection, "id", current.ID, "err", err)
		return err
	}
	next.Revision = rev
	return nil
}
