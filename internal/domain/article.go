package domain

import "time"

// ScrapeStatus tracks how much of an article body we managed to obtain.
type ScrapeStatus string

const (
	StatusUnscraped      ScrapeStatus = "unscraped"
	StatusFull           ScrapeStatus = "full"
	StatusPartialSnippet ScrapeStatus = "partial_snippet"
	StatusFailed         ScrapeStatus = "failed"
)

// Rank orders statuses by robustness; a record never regresses from full.
func (s ScrapeStatus) Rank() int {
	switch s {
	case StatusFull:
		return 3
	case StatusPartialSnippet:
		return 2
	case StatusFailed:
		return 1
	default:
		return 0
	}
}

// Degraded reports whether a healing run should pick the record up.
func (s ScrapeStatus) Degraded() bool {
	return s == StatusFailed || s == StatusPartialSnippet
}

// Severity is the SOC-analyst priority assigned by analysis.
type Severity string

const (
	SeverityHigh    Severity = "high"
	SeverityMedium  Severity = "medium"
	SeverityLow     Severity = "low"
	SeverityUnknown Severity = "unknown"
)

// ParseSeverity maps free-form analyzer output onto the enum.
func ParseSeverity(raw string) Severity {
	switch Severity(normalizeEnum(raw)) {
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Provenance records whether the stored summary came from automated
// analysis or from a human analyst message.
type Provenance string

const (
	ProvenanceAutomated     Provenance = "automated"
	ProvenanceHumanVerified Provenance = "human_verified"
)

// Article is one discovered piece of intelligence. IdentityKey is the
// stable hash of the normalized URL and never changes after creation.
type Article struct {
	IdentityKey  string
	URL          string
	Title        string
	Origins      []string
	Summary      string
	Category     string
	Severity     Severity
	Provenance   Provenance
	ScrapeStatus ScrapeStatus
	ContentHash  string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
}

// EntityType enumerates the real-world concepts analysis extracts.
type EntityType string

const (
	EntityThreatActor  EntityType = "threat_actor"
	EntityMalware      EntityType = "malware"
	EntityCVE          EntityType = "cve"
	EntityOrganization EntityType = "organization"
)

// Entity is a named concept, unique per (normalized name, type).
type Entity struct {
	Name string
	Type EntityType
}

// RelationType labels a directed edge in the intelligence graph.
type RelationType string

const (
	RelationMentions RelationType = "mentions"
	RelationUses     RelationType = "uses"
	RelationExploits RelationType = "exploits"
)

// Relationship is a directed edge keyed by (source, target, type).
// Endpoints are node keys, never row IDs; confidence is informational
// and excluded from edge identity.
type Relationship struct {
	Source     string
	Target     string
	Type       RelationType
	Confidence float64
}
