package search

import (
	"brokerdesk/api/internal/clients"

	"github.com/google/uuid"
)

// Engine names the backend that answered a query.
type Engine string

const (
	EngineMeili    Engine = "meilisearch"
	EngineResolver Engine = "resolver"
)

// Query describes a client directory search.
type Query struct {
	Text   string
	Source string // empty = every source
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []clients.ClientProfile `json:"results"`
	Total   int                     `json:"total"`
	Query   string                  `json:"query"`
	Engine  Engine                  `json:"engine"`
}

// Searcher runs a full-text query and returns matching client IDs in rank order.
type Searcher interface {
	SearchClients(q Query) ([]string, int, error)
	Healthy() bool
}

// Indexer pushes client documents into a search index.
type Indexer interface {
	IndexClients(docs []ClientDocument) error
}

// Backend is a full-text engine that can both answer and ingest.
type Backend interface {
	Searcher
	Indexer
}

// ClientDocument is what we index per client. Client IDs contain spaces, which
// the index rejects as primary keys, so documents are keyed by a name-based UUID.
type ClientDocument struct {
	ID             string   `json:"id"`
	ClientID       string   `json:"clientId"`
	DisplayName    string   `json:"displayName"`
	NormalizedName string   `json:"normalizedName"`
	Sources        []string `json:"sources"`
	PolicyNumbers  []string `json:"policyNumbers"`
	Insurers       []string `json:"insurers"`
	RFCs           []string `json:"rfcs"`
}

var documentNamespace = uuid.MustParse("6f1c2d0e-8a4b-5c3d-9e7f-0a1b2c3d4e5f")

// DocumentID derives the stable index key for a client ID.
func DocumentID(clientID string) string {
	return uuid.NewSHA1(documentNamespace, []byte(clientID)).String()
}

// DocumentFromProfile flattens a profile into its index document.
func DocumentFromProfile(p clients.ClientProfile) ClientDocument {
	doc := ClientDocument{
		ID:             DocumentID(p.ID),
		ClientID:       p.ID,
		DisplayName:    p.DisplayName,
		NormalizedName: p.ID,
		Sources:        append([]string{}, p.Sources...),
		PolicyNumbers:  []string{},
		Insurers:       []string{},
		RFCs:           []string{},
	}
	for _, policy := range p.Policies {
		doc.PolicyNumbers = appendDistinct(doc.PolicyNumbers, policy.PolicyNumber)
		doc.Insurers = appendDistinct(doc.Insurers, policy.Insurer)
		doc.RFCs = appendDistinct(doc.RFCs, policy.RFC)
	}
	return doc
}

func appendDistinct(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
