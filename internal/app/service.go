package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"brokerdesk/api/internal/clients"
	"brokerdesk/api/internal/config"
	"brokerdesk/api/internal/dates"
	"brokerdesk/api/internal/export"
	"brokerdesk/api/internal/ledger"
	"brokerdesk/api/internal/logging"
	"brokerdesk/api/internal/reports"
	"brokerdesk/api/internal/search"
	"brokerdesk/api/internal/sources"
	"brokerdesk/api/internal/store"
)

const defaultEventLimit = 20

type dataStore interface {
	Ping(context.Context) error
	GetRecord(ctx context.Context, collection, id string) (store.Record, error)
	ListLedgerEvents(ctx context.Context, collection, id string, limit int) ([]store.LedgerEvent, error)
}

type clientResolver interface {
	ResolveAll(ctx context.Context, forceRefresh bool) ([]clients.ClientProfile, error)
	Get(ctx context.Context, id string) (clients.ClientProfile, error)
	Stats(ctx context.Context) (clients.Stats, error)
	Invalidate(ctx context.Context) error
}

type clientSearcher interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
}

type reportBuilder interface {
	Expirations(ctx context.Context, window reports.Window) (reports.ExpirationReport, error)
	InstallmentsDue(ctx context.Context, from, to dates.CanonicalDate) (reports.InstallmentsReport, error)
}

type reportExporter interface {
	Export(ctx context.Context, t export.Table, format export.Format) (*export.Result, error)
}

// Deps are the collaborators the service orchestrates.
type Deps struct {
	Store     dataStore
	Sources   *sources.Table
	Clients   clientResolver
	Directory clientSearcher
	Ledger    *ledger.Ledger
	Reports   reportBuilder
	Exports   reportExporter
	Logger    logging.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	table     *sources.Table
	clients   clientResolver
	directory clientSearcher
	ledger    *ledger.Ledger
	reports   reportBuilder
	exports   reportExporter
	logger    logging.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		table:     deps.Sources,
		clients:   deps.Clients,
		directory: deps.Directory,
		ledger:    deps.Ledger,
		reports:   deps.Reports,
		exports:   deps.Exports,
		logger:    deps.Logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListClients(ctx context.Context, refresh bool) ([]clients.ClientProfile, error) {
	return s.clients.ResolveAll(ctx, refresh)
}

func (s *Service) GetClient(ctx context.Context, id string) (clients.ClientProfile, error) {
	return s.clients.Get(ctx, id)
}

func (s *Service) ClientStats(ctx context.Context) (clients.Stats, error) {
	return s.clients.Stats(ctx)
}

func (s *Service) SearchClients(ctx context.Context, q search.Query) (search.Response, error) {
	if q.Source != "" {
		if _, ok := s.table.Lookup(q.Source); !ok {
			return search.Response{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown source", map[string]any{"source": q.Source})
		}
	}
	return s.directory.Search(ctx, q)
}

// PolicyInstallments is the installment view of one policy with its recent
// ledger history.
type PolicyInstallments struct {
	ledger.Summary
	Events []store.LedgerEvent `json:"events"`
}

func (s *Service) Installments(ctx context.Context, collection, id string) (PolicyInstallments, error) {
	p, err := s.loadPolicy(ctx, collection, id)
	if err != nil {
		return PolicyInstallments{}, err
	}
	events, err := s.store.ListLedgerEvents(ctx, p.Collection, p.ID, defaultEventLimit)
	if err != nil {
		return PolicyInstallments{}, fmt.Errorf("list ledger events: %w", err)
	}
	return PolicyInstallments{Summary: s.ledger.Describe(p), Events: events}, nil
}

func (s *Service) AdvanceInstallment(ctx context.Context, collection, id string) (ledger.Summary, error) {
	p, err := s.loadPolicy(ctx, collection, id)
	if err != nil {
		return ledger.Summary{}, err
	}
	if err := s.ledger.Advance(ctx, &p); err != nil {
		return ledger.Summary{}, err
	}
	return s.ledger.Describe(p), nil
}

func (s *Service) ToggleInstallment(ctx context.Context, collection, id string) (ledger.Summary, error) {
	p, err := s.loadPolicy(ctx, collection, id)
	if err != nil {
		return ledger.Summary{}, err
	}
	if err := s.ledger.Toggle(ctx, &p); err != nil {
		return ledger.Summary{}, err
	}
	return s.ledger.Describe(p), nil
}

// SetFrequency changes a policy's payment frequency. The frequency shows in
// client profiles, so the client cache is dropped afterwards.
func (s *Service) SetFrequency(ctx context.Context, collection, id, code string) (ledger.Summary, error) {
	if strings.TrimSpace(code) == "" {
		return ledger.Summary{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "frequency is required", nil)
	}
	p, err := s.loadPolicy(ctx, collection, id)
	if err != nil {
		return ledger.Summary{}, err
	}
	if err := s.ledger.SetFrequency(ctx, &p, code); err != nil {
		return ledger.Summary{}, err
	}
	if err := s.clients.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate client cache", "error", err)
	}
	return s.ledger.Describe(p), nil
}

func (s *Service) loadPolicy(ctx context.Context, collection, id string) (ledger.Policy, error) {
	if !s.knownCollection(collection) {
		return ledger.Policy{}, domainError(http.StatusNotFound, "UNKNOWN_COLLECTION", "Unknown collection", map[string]any{"collection": collection})
	}
	rec, err := s.store.GetRecord(ctx, collection, id)
	if err != nil {
		return ledger.Policy{}, err
	}
	return ledger.PolicyFromFields(collection, rec.ID, rec.Revision, rec.Fields, s.table.Fields), nil
}

// knownCollection reports whether collection is one of this team's
// physical collections.
func (s *Service) knownCollection(collection string) bool {
	for _, name := range s.table.Names() {
		physical, err := s.table.CollectionName(s.cfg.TeamID, s.cfg.PrimaryTeamID, name)
		if err == nil && physical == collection {
			return true
		}
	}
	return false
}

// ReportOutput is either a JSON payload or a rendered file.
type ReportOutput struct {
	JSON any
	File *export.Result
}

func (s *Service) ExpirationsReport(ctx context.Context, window reports.Window, format export.Format) (ReportOutput, error) {
	report, err := s.reports.Expirations(ctx, window)
	if err != nil {
		return ReportOutput{}, err
	}
	if format == export.FormatJSON {
		return ReportOutput{JSON: report}, nil
	}
	file, err := s.exports.Export(ctx, export.ExpirationsTable(report), format)
	if err != nil {
		return ReportOutput{}, err
	}
	return ReportOutput{File: file}, nil
}

func (s *Service) InstallmentsDueReport(ctx context.Context, from, to dates.CanonicalDate, format export.Format) (ReportOutput, error) {
	report, err := s.reports.InstallmentsDue(ctx, from, to)
	if err != nil {
		return ReportOutput{}, err
	}
	if format == export.FormatJSON {
		return ReportOutput{JSON: report}, nil
	}
	file, err := s.exports.Export(ctx, export.InstallmentsTable(report), format)
	if err != nil {
		return ReportOutput{}, err
	}
	return ReportOutput{File: file}, nil
}

// Today is the service's current calendar day in the configured timezone.
func (s *Service) Today() dates.CanonicalDate {
	return s.ledger.Today()
}

type engineStatus interface {
	Enabled() bool
	Healthy() bool
}

// SearchHealthy reports the search engine's health; ok is false when no
// engine is configured.
func (s *Service) SearchHealthy() (healthy, ok bool) {
	h, isEngine := s.directory.(engineStatus)
	if !isEngine || !h.Enabled() {
		return false, false
	}
	return h.Healthy(), true
}
