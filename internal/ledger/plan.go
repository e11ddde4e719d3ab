package ledger

import (
	"brokerdesk/api/internal/dates"

	"github.com/shopspring/decimal"
)

// PlanRow is one installment of the derived schedule.
type PlanRow struct {
	Number   int                 `json:"number"`
	DueDate  dates.CanonicalDate `json:"dueDate"`
	Amount   decimal.Decimal     `json:"amount"`
	Paid     bool                `json:"paid"`
	PaidDate dates.CanonicalDate `json:"paidDate,omitzero"`
	Current  bool                `json:"current"`
}

// Plan lists every installment of the policy. Amounts split the premium
// evenly to the cent; the rounding remainder goes to the first installment so
// the rows always add up to the premium.
func Plan(p Policy) ([]PlanRow, error) {
	if !HasInstallments(p) {
		return nil, ErrNoInstallments
	}
	if !p.Start.IsKnown() {
		return nil, ErrUnknownStartDate
	}
	freq := p.Frequency()
	count := decimal.NewFromInt(int64(freq.Count))
	each := p.Premium.Div(count).RoundDown(2)
	remainder := p.Premium.Sub(each.Mul(count))

	rows := make([]PlanRow, 0, freq.Count)
	for n := 1; n <= freq.Count; n++ {
		row := PlanRow{
			Number:  n,
			DueDate: p.Start.AddMonths(freq.IntervalMonths * (n - 1)),
			Amount:  each,
			Current: n == p.index(),
		}
		if n == 1 {
			row.Amount = each.Add(remainder)
		}
		if e, ok := p.Entry(n); ok {
			row.Paid = e.Paid
			row.PaidDate = e.PaidDate
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// InstallmentAmount is the regular (non-first) installment amount.
func InstallmentAmount(p Policy) decimal.Decimal {
	count := p.InstallmentCount()
	if count < 1 {
		return p.Premium
	}
	return p.Premium.Div(decimal.NewFromInt(int64(count))).RoundDown(2)
}

// Summary is the full read-side view of a policy's schedule.
type Summary struct {
	Collection       string              `json:"collection"`
	ID               string              `json:"id"`
	Frequency        string              `json:"frequency"`
	HasInstallments  bool                `json:"hasInstallments"`
	InstallmentCount int                 `json:"installmentCount"`
	IntervalMonths   int                 `json:"intervalMonths"`
	CurrentIndex     int                 `json:"currentIndex"`
	Complete         bool                `json:"complete"`
	NextDueDate      dates.CanonicalDate `json:"nextDueDate"`
	Status           Status              `json:"status"`
	Lapsed           bool                `json:"lapsed"`
	Revision         int64               `json:"revision"`
	Plan             []PlanRow           `json:"plan,omitempty"`
}

func (l *Ledger) Describe(p Policy) Summary {
	freq := p.Frequency()
	s := Summary{
		Collection:       p.Collection,
		ID:               p.ID,
		Frequency:        freq.Name,
		HasInstallments:  HasInstallments(p),
		InstallmentCount: freq.Count,
		IntervalMonths:   freq.IntervalMonths,
		CurrentIndex:     p.index(),
		Complete:         p.index() > freq.Count,
		NextDueDate:      EffectiveDueDate(p),
		Revision:         p.Revision,
	}
	if !s.HasInstallments {
		s.Status = Unpaid
		return s
	}
	s.Status = l.Status(p)
	s.Lapsed = l.Lapsed(p)
	if plan, err := Plan(p); err == nil {
		s.Plan = plan
	}
	return s
}
