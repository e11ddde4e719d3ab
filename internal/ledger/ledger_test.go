package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"brokerdesk/api/internal/dates"
	"brokerdesk/api/internal/metrics"
	"brokerdesk/api/internal/sources"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	deltas  []Delta
	fields  map[string]any
	revs    int64
	failErr error
}

func (f *fakeSink) UpdateField(_ context.Context, _, _, field string, value any) (int64, error) {
	if f.failErr != nil {
		return 0, f.failErr
	}
	if f.fields == nil {
		f.fields = map[string]any{}
	}
	f.fields[field] = value
	f.revs++
	return f.revs, nil
}

func (f *fakeSink) ApplyLedgerDelta(_ context.Context, _, _ string, delta Delta) (int64, error) {
	if f.failErr != nil {
		return 0, f.failErr
	}
	f.deltas = append(f.deltas, delta)
	f.revs = delta.Revision + 1
	return f.revs, nil
}

func fixedClock(y int, m time.Month, d int) func() time.Time {
	return func() time.Time { return time.Date(y, m, d, 10, 0, 0, 0, time.UTC) }
}

func monthlyPolicy() Policy {
	return Policy{
		Collection:    "autos",
		ID:            "p-1",
		Revision:      3,
		FrequencyCode: "Monthly",
		Start:         dates.New(2024, time.January, 1),
		Premium:       decimal.NewFromInt(1200),
		CurrentIndex:  1,
	}
}

func TestHasInstallments(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"Monthly", true},
		{"MENSUAL", true},
		{"trimestral", true},
		{"Semestral", true},
		{"Annual", false},
		{" anual ", false},
		{"", false},
		{"   ", false},
		{"contado", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HasInstallments(Policy{FrequencyCode: tc.code}), "code %q", tc.code)
	}

	annual := monthlyPolicy()
	annual.FrequencyCode = "Annual"
	annual.Entries = []Entry{{Number: 1, Paid: true}}
	annual.CurrentIndex = 5
	assert.False(t, HasInstallments(annual))
}

func TestLookupFrequencyTable(t *testing.T) {
	cases := map[string][2]int{
		"monthly":       {12, 1},
		"Bimestral":     {6, 2},
		"QUARTERLY":     {4, 3},
		"cuatrimestral": {3, 4},
		"four-month":    {3, 4},
		"semiannual":    {2, 6},
		"anual":         {1, 12},
	}
	for code, want := range cases {
		f, ok := LookupFrequency(code)
		assert.True(t, ok, code)
		assert.Equal(t, want[0], f.Count, code)
		assert.Equal(t, want[1], f.IntervalMonths, code)
	}

	f, ok := LookupFrequency("weekly")
	assert.False(t, ok)
	assert.Equal(t, Monthly, f)
}

func TestAdvanceMonthly(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, Options{Now: fixedClock(2024, time.January, 15)})
	p := monthlyPolicy()

	require.True(t, HasInstallments(p))
	require.NoError(t, l.Advance(context.Background(), &p))

	assert.Equal(t, 2, p.CurrentIndex)
	assert.Equal(t, "2024-02-01", p.NextDueDate.String())
	assert.Equal(t, int64(4), p.Revision)
	e, ok := p.Entry(1)
	require.True(t, ok)
	assert.True(t, e.Paid)
	assert.Equal(t, "2024-01-15", e.PaidDate.String())

	require.Len(t, sink.deltas, 1)
	d := sink.deltas[0]
	assert.Equal(t, "advance", d.Operation)
	assert.Equal(t, int64(3), d.Revision)
	assert.Equal(t, 2, d.CurrentIndex)
	fields := d.Fields()
	assert.Equal(t, "2024-02-01", fields[FieldNextDueDate])
	assert.Equal(t, 2, fields[FieldCurrentIndex])
	assert.Equal(t, "No Pagado", fields[FieldPaymentStatus])
}

func TestAdvanceAlwaysMeasuresFromStart(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, Options{Now: fixedClock(2024, time.June, 1)})
	p := monthlyPolicy()
	p.FrequencyCode = "trimestral"
	p.Start = dates.New(2024, time.January, 31)

	require.NoError(t, l.Advance(context.Background(), &p))
	assert.Equal(t, "2024-04-30", p.NextDueDate.String())
	require.NoError(t, l.Advance(context.Background(), &p))
	assert.Equal(t, "2024-07-31", p.NextDueDate.String())
	require.NoError(t, l.Advance(context.Background(), &p))
	assert.Equal(t, "2024-10-31", p.NextDueDate.String())
	assert.Equal(t, 4, p.CurrentIndex)
}

func TestAdvanceRejectsOverflow(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, Options{Now: fixedClock(2024, time.March, 1)})
	p := monthlyPolicy()
	p.FrequencyCode = "semestral"

	require.NoError(t, l.Advance(context.Background(), &p))
	require.NoError(t, l.Advance(context.Background(), &p))
	assert.Equal(t, 3, p.CurrentIndex)
	assert.Equal(t, "2025-01-01", p.NextDueDate.String())

	before := p
	err := l.Advance(context.Background(), &p)
	assert.ErrorIs(t, err, ErrScheduleComplete)
	assert.Equal(t, before.CurrentIndex, p.CurrentIndex)
	assert.Len(t, sink.deltas, 2)
}

func TestAdvanceRejectsAnnualAndUnknownStart(t *testing.T) {
	l := New(&fakeSink{}, Options{})

	annual := monthlyPolicy()
	annual.FrequencyCode = "Annual"
	assert.ErrorIs(t, l.Advance(context.Background(), &annual), ErrNoInstallments)

	noStart := monthlyPolicy()
	noStart.Start = dates.CanonicalDate{}
	assert.ErrorIs(t, l.Advance(context.Background(), &noStart), ErrUnknownStartDate)
}

func TestAdvanceRollsBackOnSinkFailure(t *testing.T) {
	m := metrics.New()
	boom := errors.New("connection reset")
	l := New(&fakeSink{failErr: boom}, Options{Now: fixedClock(2024, time.January, 15), Metrics: m})
	p := monthlyPolicy()
	p.Entries = []Entry{{Number: 1, Paid: false}}
	before := p.clone()

	err := l.Advance(context.Background(), &p)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, p)
	assert.False(t, p.Entries[0].Paid)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOperations.WithLabelValues("advance", "error")))
}

func TestStatusLapsesAfterDueDate(t *testing.T) {
	p := monthlyPolicy()
	p.Entries = []Entry{{Number: 1, Paid: true, PaidDate: dates.New(2024, time.January, 5)}}

	assert.Equal(t, Paid, StatusAt(p, dates.New(2024, time.January, 20)))
	assert.Equal(t, Paid, StatusAt(p, dates.New(2024, time.February, 1)))
	assert.Equal(t, Unpaid, StatusAt(p, dates.New(2024, time.March, 1)))

	l := New(&fakeSink{}, Options{Now: fixedClock(2024, time.March, 1)})
	assert.Equal(t, Unpaid, l.Status(p))
	assert.True(t, l.Lapsed(p))

	fresh := monthlyPolicy()
	assert.Equal(t, Unpaid, l.Status(fresh))
	assert.False(t, l.Lapsed(fresh))
}

func TestStatusUsesStoredDueDate(t *testing.T) {
	p := monthlyPolicy()
	p.CurrentIndex = 2
	p.NextDueDate = dates.New(2024, time.February, 1)
	p.Entries = []Entry{{Number: 1, Paid: true}, {Number: 2, Paid: true}}

	assert.Equal(t, Paid, StatusAt(p, dates.New(2024, time.February, 1)))
	assert.Equal(t, Unpaid, StatusAt(p, dates.New(2024, time.February, 2)))

	p.Start = dates.CanonicalDate{}
	p.NextDueDate = dates.CanonicalDate{}
	assert.Equal(t, Unpaid, StatusAt(p, dates.New(2024, time.January, 2)))
}

func TestStatusOfCompletedSchedule(t *testing.T) {
	p := monthlyPolicy()
	p.FrequencyCode = "semestral"
	p.CurrentIndex = 3
	p.NextDueDate = dates.New(2025, time.January, 1)

	assert.Equal(t, Paid, StatusAt(p, dates.New(2024, time.December, 31)))
	assert.Equal(t, Unpaid, StatusAt(p, dates.New(2025, time.January, 2)))
}

func TestToggleIsAsymmetric(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, Options{Now: fixedClock(2024, time.January, 10)})
	p := monthlyPolicy()

	require.NoError(t, l.Advance(context.Background(), &p))
	require.Equal(t, 2, p.CurrentIndex)
	due := p.NextDueDate

	require.NoError(t, l.Toggle(context.Background(), &p))
	e, ok := p.Entry(2)
	require.True(t, ok)
	assert.True(t, e.Paid)
	assert.Equal(t, "2024-01-10", e.PaidDate.String())
	assert.Equal(t, Paid, l.Status(p))

	require.NoError(t, l.Toggle(context.Background(), &p))
	e, _ = p.Entry(2)
	assert.False(t, e.Paid)
	assert.False(t, e.PaidDate.IsKnown())
	assert.Equal(t, 2, p.CurrentIndex)
	assert.Equal(t, due, p.NextDueDate)

	first, _ := p.Entry(1)
	assert.True(t, first.Paid)
	assert.Equal(t, "toggle", sink.deltas[len(sink.deltas)-1].Operation)
}

func TestToggleRollsBackOnFailure(t *testing.T) {
	l := New(&fakeSink{failErr: errors.New("write refused")}, Options{})
	p := monthlyPolicy()

	require.Error(t, l.Toggle(context.Background(), &p))
	assert.Empty(t, p.Entries)
	assert.Equal(t, int64(3), p.Revision)
}

func TestSetFrequencyRecomputesDerivedValues(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, Options{})
	p := monthlyPolicy()
	p.FrequencyField = "forma_de_pago"

	require.NoError(t, l.SetFrequency(context.Background(), &p, "quarterly"))
	assert.Equal(t, "Trimestral", sink.fields["forma_de_pago"])
	assert.Equal(t, 4, p.InstallmentCount())
	assert.Equal(t, 3, p.IntervalMonths())

	assert.ErrorIs(t, l.SetFrequency(context.Background(), &p, "weekly"), ErrUnknownFrequency)
}

func TestPolicyFromFields(t *testing.T) {
	table, err := sources.Default()
	require.NoError(t, err)

	fields := map[string]any{
		"forma_de_pago":      "Trimestral",
		"fecha_inicio":       "15/01/2024",
		"prima_total":        "$12,000.50",
		FieldCurrentIndex:    float64(2),
		FieldNextDueDate:     "2024-04-15",
		FieldEntries:         []any{map[string]any{"numero": float64(1), "pagado": true, "fecha_pago": "2024-01-20"}, map[string]any{"numero": "x"}},
		"nombre_contratante": "Ana",
	}
	p := PolicyFromFields("autos", "r-9", 7, fields, table.Fields)

	assert.Equal(t, "Trimestral", p.FrequencyCode)
	assert.Equal(t, "forma_de_pago", p.FrequencyField)
	assert.Equal(t, "2024-01-15", p.Start.String())
	assert.True(t, decimal.RequireFromString("12000.50").Equal(p.Premium))
	assert.Equal(t, 2, p.CurrentIndex)
	assert.Equal(t, "2024-04-15", p.NextDueDate.String())
	require.Len(t, p.Entries, 1)
	assert.Equal(t, "2024-01-20", p.Entries[0].PaidDate.String())
	assert.Equal(t, int64(7), p.Revision)

	empty := PolicyFromFields("vida", "r-10", 1, map[string]any{}, table.Fields)
	assert.Equal(t, 1, empty.CurrentIndex)
	assert.False(t, HasInstallments(empty))
	assert.Equal(t, "forma_de_pago", empty.FrequencyField)
}
