package search

import (
	"context"
	"strings"

	"brokerdesk/api/internal/clients"
	"brokerdesk/api/internal/logging"
)

// Fallback is the resolver surface the directory leans on.
type Fallback interface {
	ResolveAll(ctx context.Context, forceRefresh bool) ([]clients.ClientProfile, error)
	Search(ctx context.Context, term string, limit int) ([]clients.ClientProfile, error)
}

// Directory is the facade that tries Meilisearch first and falls back to the
// resolver's in-memory match.
type Directory struct {
	engine   Backend
	resolver Fallback
	logger   logging.Logger
}

// NewDirectory creates a directory. engine may be nil if Meilisearch is not configured.
func NewDirectory(engine Backend, resolver Fallback, logger logging.Logger) *Directory {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Directory{engine: engine, resolver: resolver, logger: logger.With("component", "search")}
}

// Enabled reports whether a full-text engine is configured.
func (d *Directory) Enabled() bool {
	return d.engine != nil
}

// Healthy reports whether queries are currently served by the full-text engine.
func (d *Directory) Healthy() bool {
	return d.engine != nil && d.engine.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to the resolver.
func (d *Directory) Search(ctx context.Context, q Query) (Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if clients.NormalizeName(q.Text) == "" {
		return Response{}, clients.ErrEmptyQuery
	}
	if q.Limit <= 0 {
		q.Limit = clients.DefaultSearchLimit
	}

	if d.Healthy() {
		ids, total, err := d.engine.SearchClients(q)
		if err == nil {
			results, err := d.hydrate(ctx, ids)
			if err != nil {
				return Response{}, err
			}
			return Response{Results: results, Total: max(total, len(results)), Query: q.Text, Engine: EngineMeili}, nil
		}
		d.logger.Warn("meilisearch error, falling back to resolver", "error", err)
	}

	found, err := d.resolver.Search(ctx, q.Text, q.Limit)
	if err != nil {
		return Response{}, err
	}
	results := make([]clients.ClientProfile, 0, len(found))
	for _, p := range found {
		if q.Source == "" || containsString(p.Sources, q.Source) {
			results = append(results, p)
		}
	}
	return Response{Results: results, Total: len(results), Query: q.Text, Engine: EngineResolver}, nil
}

// hydrate maps index hits back onto the current resolution snapshot. Hits for
// clients that no longer resolve are dropped.
func (d *Directory) hydrate(ctx context.Context, ids []string) ([]clients.ClientProfile, error) {
	profiles, err := d.resolver.ResolveAll(ctx, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]clients.ClientProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	results := make([]clients.ClientProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			results = append(results, p)
		}
	}
	return results, nil
}

// Reindex pushes every profile to the full-text engine.
func (d *Directory) Reindex(profiles []clients.ClientProfile) error {
	if !d.Healthy() {
		return nil
	}
	docs := make([]ClientDocument, 0, len(profiles))
	for _, p := range profiles {
		docs = append(docs, DocumentFromProfile(p))
	}
	if err := d.engine.IndexClients(docs); err != nil {
		return err
	}
	d.logger.Debug("directory reindexed", "clients", len(docs))
	return nil
}

// ReindexAsync reindexes in the background (fire-and-forget).
func (d *Directory) ReindexAsync(profiles []clients.ClientProfile) {
	if !d.Healthy() {
		return
	}
	go func() {
		if err := d.Reindex(profiles); err != nil {
			d.logger.Warn("reindex clients", "error", err)
		}
	}()
}

// ReindexFromResolver reads the current snapshot and pushes it to the engine.
func (d *Directory) ReindexFromResolver(ctx context.Context) error {
	if !d.Healthy() {
		return nil
	}
	profiles, err := d.resolver.ResolveAll(ctx, false)
	if err != nil {
		return err
	}
	return d.Reindex(profiles)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
