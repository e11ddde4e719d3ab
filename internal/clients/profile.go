package clients

import (
	"time"

	"brokerdesk/api/internal/dates"

	"github.com/shopspring/decimal"
)

// PolicySummary is the resolver's read-only view of one policy record.
type PolicySummary struct {
	RecordID        string              `json:"recordId"`
	Source          string              `json:"source"`
	SourceLabel     string              `json:"sourceLabel"`
	PolicyNumber    string              `json:"policyNumber"`
	Insurer         string              `json:"insurer"`
	StartDate       dates.CanonicalDate `json:"startDate"`
	EndDate         dates.CanonicalDate `json:"endDate"`
	Frequency       string              `json:"frequency"`
	HasInstallments bool                `json:"hasInstallments"`
	Premium         decimal.Decimal     `json:"premium"`
	Email           string              `json:"email,omitempty"`
	RFC             string              `json:"rfc,omitempty"`
	Phone           string              `json:"phone,omitempty"`
	Address         string              `json:"address,omitempty"`
	Agent           string              `json:"agent,omitempty"`
}

// ClientProfile is one deduplicated contracting party. Profiles are rebuilt
// wholesale on every resolution pass.
type ClientProfile struct {
	ID              string           `json:"id"`
	DisplayName     string           `json:"displayName"`
	Policies        []*PolicySummary `json:"policies"`
	Sources         []string         `json:"sources"`
	ActivePolicies  int              `json:"activePolicies"`
	ExpiredPolicies int              `json:"expiredPolicies"`
	UnknownPolicies int              `json:"unknownPolicies"`
	TotalPolicies   int              `json:"totalPolicies"`
}

// Snapshot is one published resolution result.
type Snapshot struct {
	Profiles   []ClientProfile `json:"profiles"`
	ResolvedAt time.Time       `json:"resolvedAt"`
}

type Stats struct {
	Clients         int       `json:"clients"`
	Policies        int       `json:"policies"`
	ActivePolicies  int       `json:"activePolicies"`
	ExpiredPolicies int       `json:"expiredPolicies"`
	UnknownPolicies int       `json:"unknownPolicies"`
	Sources         []string  `json:"sources"`
	ResolvedAt      time.Time `json:"resolvedAt"`
}
