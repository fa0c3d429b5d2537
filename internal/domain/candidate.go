package domain

import (
	"strings"
	"time"
)

// RawItem is what a source yields before canonicalization: a link plus
// whatever metadata the source carried.
type RawItem struct {
	URL         string
	Title       string
	Snippet     string
	PublishedAt *time.Time
}

// Candidate is a normalized, not-yet-deduplicated discovery record.
type Candidate struct {
	IdentityKey  string
	URL          string
	Title        string
	Snippet      string
	Origin       string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
}

// Analysis is the result of one AI analysis call. Degraded results carry
// an empty summary and SeverityUnknown; the pipeline records them as-is.
type Analysis struct {
	Summary   string
	Category  string
	Severity  Severity
	Degraded  bool
	Entities  []Entity
	Relations []EntityRelation
}

// EntityRelation is a direct entity-to-entity link asserted by analysis.
type EntityRelation struct {
	Source     Entity
	Target     Entity
	Type       RelationType
	Confidence float64
}

// HumanMessage is one prior analyst post from the human channel.
type HumanMessage struct {
	Text     string
	URLs     []string
	PostedAt time.Time
}

// ArticleNodeKey returns the graph node key for an article.
func ArticleNodeKey(identityKey string) string {
	return "article:" + identityKey
}

// NodeKey returns the graph node key for an entity.
func (e Entity) NodeKey() string {
	return "entity:" + string(e.Type) + ":" + normalizeEnum(e.Name)
}

// NormalizedName is the case/whitespace-normalized form used for entity
// identity within a type.
func (e Entity) NormalizedName() string {
	return normalizeEnum(e.Name)
}

func normalizeEnum(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
