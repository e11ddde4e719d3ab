// Package reports builds the broker's operational reports: upcoming policy
// expirations, installments coming due and lapsed installment schedules.
package reports

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"brokerdesk/api/internal/clients"
	"brokerdesk/api/internal/dates"
	"brokerdesk/api/internal/ledger"
	"brokerdesk/api/internal/logging"
	"brokerdesk/api/internal/sources"
	"brokerdesk/api/internal/store"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidWindow = errors.New("invalid report window")
	ErrInvalidRange  = errors.New("invalid date range")
)

// Kind names a report for exports and metrics.
type Kind string

const (
	KindExpirations     Kind = "expirations"
	KindInstallmentsDue Kind = "installments-due"
	KindLapsed          Kind = "lapsed"
)

type Window string

const (
	WindowWeek    Window = "week"
	WindowMonth   Window = "month"
	WindowQuarter Window = "quarter"
)

func ParseWindow(raw string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(raw))); w {
	case "":
		return WindowMonth, nil
	case WindowWeek, WindowMonth, WindowQuarter:
		return w, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWindow, raw)
	}
}

// End is the last day covered by the window starting today.
func (w Window) End(today dates.CanonicalDate) dates.CanonicalDate {
	switch w {
	case WindowWeek:
		return today.AddDays(7)
	case WindowQuarter:
		return today.AddDays(90)
	default:
		return today.AddMonths(1)
	}
}

type ExpirationRow struct {
	ClientID     string              `json:"clientId"`
	ClientName   string              `json:"clientName"`
	Source       string              `json:"source"`
	SourceLabel  string              `json:"sourceLabel"`
	RecordID     string              `json:"recordId"`
	PolicyNumber string              `json:"policyNumber"`
	Insurer      string              `json:"insurer"`
	Frequency    string              `json:"frequency"`
	EndDate      dates.CanonicalDate `json:"endDate"`
	DaysLeft     int                 `json:"daysLeft"`
	Premium      decimal.Decimal     `json:"premium"`
	Email        string              `json:"email,omitempty"`
	Phone        string              `json:"phone,omitempty"`
	Agent        string              `json:"agent,omitempty"`
	Reminders    []Reminder          `json:"reminders"`
}

type ExpirationReport struct {
	Window      Window              `json:"window"`
	From        dates.CanonicalDate `json:"from"`
	To          dates.CanonicalDate `json:"to"`
	GeneratedAt time.Time           `json:"generatedAt"`
	Rows        []ExpirationRow     `json:"rows"`
}

type InstallmentRow struct {
	ClientName       string              `json:"clientName"`
	Source           string              `json:"source"`
	SourceLabel      string              `json:"sourceLabel"`
	Collection       string              `json:"collection"`
	RecordID         string              `json:"recordId"`
	PolicyNumber     string              `json:"policyNumber"`
	Insurer          string              `json:"insurer"`
	Frequency        string              `json:"frequency"`
	CurrentIndex     int                 `json:"currentIndex"`
	InstallmentCount int                 `json:"installmentCount"`
	DueDate          dates.CanonicalDate `json:"dueDate"`
	DaysLeft         int                 `json:"daysLeft"`
	Status           ledger.Status       `json:"status"`
	StatusLabel      string              `json:"statusLabel"`
	Amount           decimal.Decimal     `json:"amount"`
	Email            string              `json:"email,omitempty"`
	Reminders        []Reminder          `json:"reminders"`
}

type InstallmentsReport struct {
	Kind        Kind                `json:"kind"`
	From        dates.CanonicalDate `json:"from"`
	To          dates.CanonicalDate `json:"to"`
	GeneratedAt time.Time           `json:"generatedAt"`
	Rows        []InstallmentRow    `json:"rows"`
}

// Profiles is the resolved client set.
type Profiles interface {
	ResolveAll(ctx context.Context, forceRefresh bool) ([]clients.ClientProfile, error)
}

type Options struct {
	Team        string
	PrimaryTeam string
	Now         func() time.Time
	Logger      logging.Logger
}

type Service struct {
	profiles Profiles
	records  clients.RecordSource
	table    *sources.Table
	ledger   *ledger.Ledger
	opts     Options
	logger   logging.Logger
}

func NewService(profiles Profiles, records clients.RecordSource, table *sources.Table, l *ledger.Ledger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Service{
		profiles: profiles,
		records:  records,
		table:    table,
		ledger:   l,
		opts:     opts,
		logger:   opts.Logger.With("component", "reports"),
	}
}

// Expirations lists policies whose end date falls within the window,
// today included, soonest first.
func (s *Service) Expirations(ctx context.Context, window Window) (ExpirationReport, error) {
	profiles, err := s.profiles.ResolveAll(ctx, false)
	if err != nil {
		return ExpirationReport{}, err
	}
	today := s.ledger.Today()
	report := ExpirationReport{
		Window:      window,
		From:        today,
		To:          window.End(today),
		GeneratedAt: s.opts.Now(),
		Rows:        []ExpirationRow{},
	}
	for _, p := range profiles {
		for _, policy := range p.Policies {
			end := policy.EndDate
			if !end.IsKnown() || end.Before(report.From) || end.After(report.To) {
				continue
			}
			report.Rows = append(report.Rows, ExpirationRow{
				ClientID:     p.ID,
				ClientName:   p.DisplayName,
				Source:       policy.Source,
				SourceLabel:  policy.SourceLabel,
				RecordID:     policy.RecordID,
				PolicyNumber: policy.PolicyNumber,
				Insurer:      policy.Insurer,
				Frequency:    policy.Frequency,
				EndDate:      end,
				DaysLeft:     daysBetween(today, end),
				Premium:      policy.Premium,
				Email:        policy.Email,
				Phone:        policy.Phone,
				Agent:        policy.Agent,
				Reminders:    Reminders(end, policy.Frequency, today),
			})
		}
	}
	slices.SortFunc(report.Rows, func(a, b ExpirationRow) int {
		return cmp.Or(
			compareDates(a.EndDate, b.EndDate),
			strings.Compare(strings.ToLower(a.ClientName), strings.ToLower(b.ClientName)),
			strings.Compare(a.RecordID, b.RecordID),
		)
	})
	return report, nil
}

// InstallmentsDue lists installment-billed policies whose effective next due
// date lies in [from, to]. Completed schedules are left out.
func (s *Service) InstallmentsDue(ctx context.Context, from, to dates.CanonicalDate) (InstallmentsReport, error) {
	if !from.IsKnown() || !to.IsKnown() || to.Before(from) {
		return InstallmentsReport{}, fmt.Errorf("%w: %s..%s", ErrInvalidRange, from, to)
	}
	today := s.ledger.Today()
	report := InstallmentsReport{Kind: KindInstallmentsDue, From: from, To: to, GeneratedAt: s.opts.Now()}
	rows, err := s.installmentRows(ctx, today, func(p ledger.Policy, due dates.CanonicalDate) bool {
		return !due.Before(from) && !due.After(to)
	})
	if err != nil {
		return InstallmentsReport{}, err
	}
	report.Rows = rows
	return report, nil
}

// Lapsed lists installment policies whose current installment was marked
// paid but whose due date has passed without an advance.
func (s *Service) Lapsed(ctx context.Context) (InstallmentsReport, error) {
	today := s.ledger.Today()
	rows, err := s.installmentRows(ctx, today, func(p ledger.Policy, _ dates.CanonicalDate) bool {
		return s.ledger.Lapsed(p)
	})
	if err != nil {
		return InstallmentsReport{}, err
	}
	return InstallmentsReport{Kind: KindLapsed, From: today, To: today, GeneratedAt: s.opts.Now(), Rows: rows}, nil
}

func (s *Service) installmentRows(ctx context.Context, today dates.CanonicalDate, keep func(ledger.Policy, dates.CanonicalDate) bool) ([]InstallmentRow, error) {
	rows := []InstallmentRow{}
	for _, source := range s.table.Names() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		collection, err := s.table.CollectionName(s.opts.Team, s.opts.PrimaryTeam, source)
		if err != nil {
			return nil, err
		}
		records, err := s.records.ListRecords(ctx, collection)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("source unavailable, skipping", "source", source, "error", err)
			continue
		}
		for _, rec := range records {
			if row, ok := s.installmentRow(source, collection, rec, today, keep); ok {
				rows = append(rows, row)
			}
		}
	}
	slices.SortFunc(rows, func(a, b InstallmentRow) int {
		return cmp.Or(
			compareDates(a.DueDate, b.DueDate),
			strings.Compare(strings.ToLower(a.ClientName), strings.ToLower(b.ClientName)),
			strings.Compare(a.RecordID, b.RecordID),
		)
	})
	return rows, nil
}

func (s *Service) installmentRow(source, collection string, rec store.Record, today dates.CanonicalDate, keep func(ledger.Policy, dates.CanonicalDate) bool) (InstallmentRow, bool) {
	p := ledger.PolicyFromFields(collection, rec.ID, rec.Revision, rec.Fields, s.table.Fields)
	if !ledger.HasInstallments(p) || p.CurrentIndex > p.InstallmentCount() {
		return InstallmentRow{}, false
	}
	due := ledger.EffectiveDueDate(p)
	if !due.IsKnown() || !keep(p, due) {
		return InstallmentRow{}, false
	}
	status := ledger.StatusAt(p, today)
	amount := ledger.InstallmentAmount(p)
	if plan, err := ledger.Plan(p); err == nil && p.CurrentIndex <= len(plan) {
		amount = plan[p.CurrentIndex-1].Amount
	}
	return InstallmentRow{
		ClientName:       sources.FirstString(rec.Fields, s.table.NameFields(source)),
		Source:           source,
		SourceLabel:      s.table.Label(source),
		Collection:       collection,
		RecordID:         rec.ID,
		PolicyNumber:     sources.FirstString(rec.Fields, s.table.Fields.PolicyNumber),
		Insurer:          sources.FirstString(rec.Fields, s.table.Fields.Insurer),
		Frequency:        p.Frequency().Name,
		CurrentIndex:     p.CurrentIndex,
		InstallmentCount: p.InstallmentCount(),
		DueDate:          due,
		DaysLeft:         daysBetween(today, due),
		Status:           status,
		StatusLabel:      status.Label(),
		Amount:           amount,
		Email:            sources.FirstString(rec.Fields, s.table.Fields.Email),
		Reminders:        Reminders(due, p.FrequencyCode, today),
	}, true
}

func daysBetween(from, to dates.CanonicalDate) int {
	return int(to.Time(time.UTC).Sub(from.Time(time.UTC)).Hours() / 24)
}

func compareDates(a, b dates.CanonicalDate) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
