package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"brokerdesk/api/internal/logging"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	IndexClients = "brokerdesk_clients"

	defaultLimit   = 20
	healthInterval = 10 * time.Second
)

var ErrUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Backend via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  logging.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the client index.
// An unreachable server is not an error: the health loop keeps probing and
// callers fall back until it recovers.
func NewMeili(url, apiKey string, logger logging.Logger) *Meili {
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.With("component", "search"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        IndexClients,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", IndexClients, "error", err)
	}

	index := m.client.Index(IndexClients)
	filterable := []interface{}{"sources", "insurers"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", IndexClients, "error", err)
	}
	searchable := []string{"displayName", "normalizedName", "policyNumbers", "rfcs", "insurers"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", IndexClients, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			switch {
			case err == nil && !wasHealthy:
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			case err != nil && wasHealthy:
				m.logger.Warn("meilisearch became unreachable", "error", err)
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// SearchClients queries the client index and returns client IDs in rank order.
func (m *Meili) SearchClients(q Query) ([]string, int, error) {
	if !m.healthy.Load() {
		return nil, 0, ErrUnhealthy
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}
	sr := &meili.SearchRequest{
		IndexUID:             IndexClients,
		Query:                q.Text,
		Limit:                limit,
		AttributesToRetrieve: []string{"clientId"},
	}
	if q.Source != "" {
		sr.Filter = fmt.Sprintf("sources = %q", q.Source)
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var ids []string
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			if id := decodeString(hit, "clientId"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, total, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexClients bulk-indexes client documents.
func (m *Meili) IndexClients(docs []ClientDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := m.client.Index(IndexClients).AddDocuments(docs, nil); err != nil {
		return fmt.Errorf("index clients: %w", err)
	}
	return nil
}
