package ledger

import "strings"

// Frequency is one row of the installment table. Count and interval are
// always derived from the code, never read back from a record.
type Frequency struct {
	Name           string
	Label          string
	Count          int
	IntervalMonths int
}

var (
	Monthly    = Frequency{Name: "monthly", Label: "Mensual", Count: 12, IntervalMonths: 1}
	Bimonthly  = Frequency{Name: "bimonthly", Label: "Bimestral", Count: 6, IntervalMonths: 2}
	Quarterly  = Frequency{Name: "quarterly", Label: "Trimestral", Count: 4, IntervalMonths: 3}
	FourMonth  = Frequency{Name: "four-month", Label: "Cuatrimestral", Count: 3, IntervalMonths: 4}
	Semiannual = Frequency{Name: "semiannual", Label: "Semestral", Count: 2, IntervalMonths: 6}
	Annual     = Frequency{Name: "annual", Label: "Anual", Count: 1, IntervalMonths: 12}
)

var frequencyCodes = map[string]Frequency{
	"monthly":       Monthly,
	"mensual":       Monthly,
	"bimonthly":     Bimonthly,
	"bimestral":     Bimonthly,
	"quarterly":     Quarterly,
	"trimestral":    Quarterly,
	"four-month":    FourMonth,
	"cuatrimestral": FourMonth,
	"semiannual":    Semiannual,
	"semestral":     Semiannual,
	"annual":        Annual,
	"anual":         Annual,
}

// LookupFrequency resolves a code case-insensitively. Unknown and missing
// codes resolve to the monthly row; ok reports whether the code was known.
func LookupFrequency(code string) (f Frequency, ok bool) {
	f, ok = frequencyCodes[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return Monthly, false
	}
	return f, true
}

func (f Frequency) IsAnnual() bool { return f.Name == Annual.Name }
