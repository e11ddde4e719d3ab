package clients

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"brokerdesk/api/internal/dates"
	"brokerdesk/api/internal/ledger"
	"brokerdesk/api/internal/logging"
	"brokerdesk/api/internal/metrics"
	"brokerdesk/api/internal/sources"
	"brokerdesk/api/internal/store"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrEmptyQuery     = errors.New("search term is empty")
)

const (
	DefaultSearchLimit = 50
	maxSearchLimit     = 500

	defaultParallelism = 4
	defaultRetries     = 2
	defaultRetryBase   = 200 * time.Millisecond
	defaultPassTimeout = 2 * time.Minute
)

// RecordSource lists the raw records of one collection.
type RecordSource interface {
	ListRecords(ctx context.Context, collection string) ([]store.Record, error)
}

type Options struct {
	Team        string
	PrimaryTeam string
	Parallelism int
	Retries     uint64
	RetryBase   time.Duration
	PassTimeout time.Duration
	Now         func() time.Time
	Location    *time.Location
	Logger      logging.Logger
	Metrics     *metrics.Metrics
	// OnResolved runs after every published pass. It must not block.
	OnResolved func(ctx context.Context, profiles []ClientProfile)
}

// Resolver merges the policy records of every configured source into one
// profile per contracting party.
type Resolver struct {
	src    RecordSource
	table  *sources.Table
	cache  Cache
	opts   Options
	logger logging.Logger
	flight singleflight.Group
}

func NewResolver(src RecordSource, table *sources.Table, cache Cache, opts Options) *Resolver {
	if opts.Parallelism < 1 {
		opts.Parallelism = defaultParallelism
	}
	if opts.Retries == 0 {
		opts.Retries = defaultRetries
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = defaultPassTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if cache == nil {
		cache = NewMemoryCache(DefaultCacheTTL, opts.Now)
	}
	return &Resolver{
		src:    src,
		table:  table,
		cache:  cache,
		opts:   opts,
		logger: opts.Logger.With("component", "clients"),
	}
}

// ResolveAll returns every client profile sorted by display name. A cached
// snapshot is served unless forceRefresh is set. Source failures degrade the
// result instead of failing it; only a cancelled context returns an error.
func (r *Resolver) ResolveAll(ctx context.Context, forceRefresh bool) ([]ClientProfile, error) {
	snap, err := r.snapshot(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	return snap.Profiles, nil
}

func (r *Resolver) Get(ctx context.Context, id string) (ClientProfile, error) {
	key := NormalizeName(id)
	if key == "" {
		return ClientProfile{}, ErrClientNotFound
	}
	snap, err := r.snapshot(ctx, false)
	if err != nil {
		return ClientProfile{}, err
	}
	for _, p := range snap.Profiles {
		if p.ID == key {
			return p, nil
		}
	}
	return ClientProfile{}, fmt.Errorf("client %q: %w", id, ErrClientNotFound)
}

// Search matches term against the normalized name or, case-insensitively,
// the display name. Results keep the resolver's ordering.
func (r *Resolver) Search(ctx context.Context, term string, limit int) ([]ClientProfile, error) {
	needle := NormalizeName(term)
	if needle == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	snap, err := r.snapshot(ctx, false)
	if err != nil {
		return nil, err
	}
	display := strings.ToLower(strings.TrimSpace(term))
	out := make([]ClientProfile, 0, min(limit, len(snap.Profiles)))
	for _, p := range snap.Profiles {
		if strings.Contains(p.ID, needle) || strings.Contains(strings.ToLower(p.DisplayName), display) {
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *Resolver) Stats(ctx context.Context) (Stats, error) {
	snap, err := r.snapshot(ctx, false)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Clients: len(snap.Profiles), ResolvedAt: snap.ResolvedAt, Sources: []string{}}
	seen := map[string]bool{}
	for _, p := range snap.Profiles {
		st.Policies += p.TotalPolicies
		st.ActivePolicies += p.ActivePolicies
		st.ExpiredPolicies += p.ExpiredPolicies
		st.UnknownPolicies += p.UnknownPolicies
		for _, s := range p.Sources {
			if !seen[s] {
				seen[s] = true
				st.Sources = append(st.Sources, s)
			}
		}
	}
	slices.Sort(st.Sources)
	return st, nil
}

// Invalidate drops the cached snapshot; the next read resolves again.
func (r *Resolver) Invalidate(ctx context.Context) error {
	return r.cache.Invalidate(ctx)
}

func (r *Resolver) snapshot(ctx context.Context, force bool) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if !force {
		snap, ok, err := r.cache.Load(ctx)
		switch {
		case err != nil:
			r.logger.Warn("client cache read failed", "error", err)
		case ok:
			r.opts.Metrics.CacheHit()
			return snap, nil
		}
		r.opts.Metrics.CacheMiss()
	}

	// The shared pass must outlive any single caller that gives up waiting.
	ch := r.flight.DoChan("resolve", func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.PassTimeout)
		defer cancel()
		return r.refresh(passCtx)
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

type mapped struct {
	key     string
	name    string
	summary *PolicySummary
}

func (r *Resolver) refresh(ctx context.Context) (Snapshot, error) {
	start := r.opts.Now()
	today := dates.Today(start, r.opts.Location)
	names := r.table.Names()
	batches := make([][]mapped, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for i, source := range names {
		g.Go(func() error {
			records, err := r.fetch(gctx, source)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.logger.Warn("source unavailable, skipping", "source", source, "error", err)
				r.opts.Metrics.SourceFailed(source)
				return nil
			}
			batch := make([]mapped, 0, len(records))
			for _, rec := range records {
				if m, ok := r.mapRecord(source, rec); ok {
					batch = append(batch, m)
				}
			}
			batches[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("resolve clients: %w", err)
	}

	snap := Snapshot{Profiles: groupProfiles(batches, today), ResolvedAt: start}
	if err := r.cache.Store(ctx, snap); err != nil {
		r.logger.Warn("client cache publish failed", "error", err)
	}
	r.opts.Metrics.ObserveResolve(start, len(snap.Profiles))
	r.logger.Info("clients resolved", "clients", len(snap.Profiles), "sources", len(names))
	if r.opts.OnResolved != nil {
		r.opts.OnResolved(context.WithoutCancel(ctx), snap.Profiles)
	}
	return snap, nil
}

func (r *Resolver) fetch(ctx context.Context, source string) ([]store.Record, error) {
	collection, err := r.table.CollectionName(r.opts.Team, r.opts.PrimaryTeam, source)
	if err != nil {
		return nil, err
	}

	var records []store.Record
	backoff := retry.WithMaxRetries(r.opts.Retries, retry.NewExponential(r.opts.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := r.src.ListRecords(ctx, collection)
		if err != nil {
			r.logger.Debug("list records failed", "collection", collection, "error", err)
			return retry.RetryableError(err)
		}
		records = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return records, nil
}

func (r *Resolver) mapRecord(source string, rec store.Record) (m mapped, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("skipping malformed record", "source", source, "id", rec.ID, "panic", p)
			r.opts.Metrics.RecordSkipped(source, "panic")
			m, ok = mapped{}, false
		}
	}()

	name := sources.FirstString(rec.Fields, r.table.NameFields(source))
	key := NormalizeName(name)
	if key == "" {
		r.logger.Warn("record has no contracting party", "source", source, "id", rec.ID)
		r.opts.Metrics.RecordSkipped(source, "no_name")
		return mapped{}, false
	}

	aliases := r.table.Fields
	frequency := sources.FirstString(rec.Fields, aliases.Frequency)
	summary := &PolicySummary{
		RecordID:        rec.ID,
		Source:          source,
		SourceLabel:     r.table.Label(source),
		PolicyNumber:    sources.FirstString(rec.Fields, aliases.PolicyNumber),
		Insurer:         sources.FirstString(rec.Fields, aliases.Insurer),
		StartDate:       r.date(source, "start", rec, aliases.Start),
		EndDate:         r.date(source, "end", rec, aliases.End),
		Frequency:       frequency,
		HasInstallments: ledger.HasInstallments(ledger.Policy{FrequencyCode: frequency}),
		Email:           sources.FirstString(rec.Fields, aliases.Email),
		RFC:             strings.ToUpper(sources.FirstString(rec.Fields, aliases.RFC)),
		Phone:           sources.FirstString(rec.Fields, aliases.Phone),
		Address:         sources.FirstString(rec.Fields, aliases.Address),
		Agent:           sources.FirstString(rec.Fields, aliases.Agent),
	}
	if amount, ok := ledger.ParseAmount(sources.FirstValue(rec.Fields, aliases.Premium)); ok {
		summary.Premium = amount
	}
	return mapped{key: key, name: strings.Join(strings.Fields(name), " "), summary: summary}, true
}

func (r *Resolver) date(source, field string, rec store.Record, keys []string) dates.CanonicalDate {
	d, diag := dates.Normalize(sources.FirstValue(rec.Fields, keys))
	if diag != nil && diag.Reason != "empty" {
		r.logger.Debug("unparseable date", "source", source, "id", rec.ID, "field", field, "diagnostic", diag.String())
		r.opts.Metrics.UnknownDate(source, field)
	}
	return d
}

func groupProfiles(batches [][]mapped, today dates.CanonicalDate) []ClientProfile {
	byKey := map[string]*ClientProfile{}
	var order []string
	for _, batch := range batches {
		for _, m := range batch {
			p, ok := byKey[m.key]
			if !ok {
				p = &ClientProfile{ID: m.key, DisplayName: m.name, Sources: []string{}}
				byKey[m.key] = p
				order = append(order, m.key)
			}
			p.Policies = append(p.Policies, m.summary)
			if !slices.Contains(p.Sources, m.summary.Source) {
				p.Sources = append(p.Sources, m.summary.Source)
			}
			switch {
			case !m.summary.EndDate.IsKnown():
				p.UnknownPolicies++
			case m.summary.EndDate.After(today):
				p.ActivePolicies++
			default:
				p.ExpiredPolicies++
			}
			p.TotalPolicies++
		}
	}

	profiles := make([]ClientProfile, 0, len(order))
	for _, key := range order {
		profiles = append(profiles, *byKey[key])
	}
	slices.SortFunc(profiles, func(a, b ClientProfile) int {
		return cmp.Or(
			strings.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)),
			strings.Compare(a.ID, b.ID),
		)
	})
	return profiles
}
