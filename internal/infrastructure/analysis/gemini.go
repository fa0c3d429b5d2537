// Package analysis talks to the Gemini API for summarization, severity
// classification and entity extraction.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

// minAnalyzeRunes skips texts too short to say anything useful about;
// snippet fallbacks usually still clear it.
const minAnalyzeRunes = 40

var categories = []string{
	"Malware Analysis",
	"Vulnerability Disclosure",
	"Threat Actor Profile",
	"Data Breach Report",
	"Geopolitical Cyber Event",
	"General Cyber News",
}

// Client implements ports.Analyzer against the Gemini generateContent
// endpoint. The rate limiter is owned state passed in by the caller so
// tests can substitute an unlimited one (and a fake clock with it).
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	maxWait    time.Duration
	logger     *slog.Logger
}

var _ ports.Analyzer = (*Client)(nil)

// Config carries the Gemini connection settings.
type Config struct {
	Endpoint   string
	Model      string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	MaxWait    time.Duration
}

// NewClient builds the analyzer. limiter enforces the minimum spacing
// between outbound calls; nil means no spacing.
func NewClient(cfg Config, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		maxRetries: cfg.MaxRetries,
		maxWait:    cfg.MaxWait,
		logger:     logger,
	}
}

// Analyze sends the text for analysis. Exhausted retries and rejected
// requests yield a degraded result, not an error: analysis failure is
// recorded on the article, it never stalls the pipeline. The returned
// error is reserved for context cancellation.
func (c *Client) Analyze(ctx context.Context, text string) (domain.Analysis, error) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minAnalyzeRunes {
		return degraded(), nil
	}

	var parsed geminiAnalysis
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return c.call(ctx, text, &parsed)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = c.maxWait
	policy.MaxElapsedTime = time.Duration(c.maxRetries+1) * c.maxWait

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return domain.Analysis{}, ctx.Err()
		}
		c.warn("analysis degraded", "error", err)
		return degraded(), nil
	}

	return parsed.toDomain(), nil
}

func (c *Client) call(ctx context.Context, text string, out *geminiAnalysis) error {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return backoff.Permanent(fmt.Errorf("gemini client misconfigured"))
	}

	body, err := json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": buildPrompt(text)}}},
		},
	})
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.endpoint, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("gemini status %s", resp.Status)
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return backoff.Permanent(fmt.Errorf("gemini error %s: %s", resp.Status, strings.TrimSpace(string(payload))))
	}

	var envelope struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Candidates) == 0 || len(envelope.Candidates[0].Content.Parts) == 0 {
		return fmt.Errorf("empty gemini response")
	}

	raw := stripJSONFences(envelope.Candidates[0].Content.Parts[0].Text)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("parse analysis json: %w", err)
	}
	return nil
}

func buildPrompt(text string) string {
	return fmt.Sprintf(`Act as a Cyber Threat Intelligence Analyst. Analyze the following article.
Provide your response as a single, valid JSON object with the following keys:
- "summary": A two-sentence summary for a social media post.
- "category": Classify the article into ONE of the following: %s.
- "severity": Classify the threat's priority for a SOC analyst as "High", "Medium", or "Low".
- "threat_actors": An array of any threat actor groups mentioned. If none, provide an empty array [].
- "malware": An array of any malware families mentioned. If none, provide an empty array [].
- "vulnerabilities": An array of any CVE identifiers mentioned. If none, provide an empty array [].
- "organizations": An array of any victim or vendor organizations mentioned. If none, provide an empty array [].
- "relations": An array of direct links the article asserts, each as {"source": name, "source_type": one of threat_actor|malware|cve|organization, "target": name, "target_type": same set, "relation": "uses" or "exploits"}. If none, provide an empty array [].

Article:
---
%s`, strings.Join(categories, ", "), text)
}

// stripJSONFences removes the markdown code fences Gemini wraps JSON in.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func degraded() domain.Analysis {
	return domain.Analysis{Severity: domain.SeverityUnknown, Degraded: true}
}

func (c *Client) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

type geminiRelation struct {
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	Target     string `json:"target"`
	TargetType string `json:"target_type"`
	Relation   string `json:"relation"`
}

type geminiAnalysis struct {
	Summary         string           `json:"summary"`
	Category        string           `json:"category"`
	Severity        string           `json:"severity"`
	ThreatActors    []string         `json:"threat_actors"`
	Malware         []string         `json:"malware"`
	Vulnerabilities []string         `json:"vulnerabilities"`
	Organizations   []string         `json:"organizations"`
	Relations       []geminiRelation `json:"relations"`
}

func (g geminiAnalysis) toDomain() domain.Analysis {
	result := domain.Analysis{
		Summary:  strings.TrimSpace(g.Summary),
		Category: strings.TrimSpace(g.Category),
		Severity: domain.ParseSeverity(g.Severity),
	}

	appendAll := func(names []string, typ domain.EntityType) {
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				result.Entities = append(result.Entities, domain.Entity{Name: name, Type: typ})
			}
		}
	}
	appendAll(g.ThreatActors, domain.EntityThreatActor)
	appendAll(g.Malware, domain.EntityMalware)
	appendAll(g.Vulnerabilities, domain.EntityCVE)
	appendAll(g.Organizations, domain.EntityOrganization)

	for _, rel := range g.Relations {
		relType, ok := parseRelation(rel.Relation)
		if !ok {
			continue
		}
		source, ok := parseEntity(rel.Source, rel.SourceType)
		if !ok {
			continue
		}
		target, ok := parseEntity(rel.Target, rel.TargetType)
		if !ok {
			continue
		}
		result.Relations = append(result.Relations, domain.EntityRelation{
			Source:     source,
			Target:     target,
			Type:       relType,
			Confidence: 0.7,
		})
	}
	return result
}

func parseRelation(raw string) (domain.RelationType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "uses":
		return domain.RelationUses, true
	case "exploits":
		return domain.RelationExploits, true
	default:
		return "", false
	}
}

func parseEntity(name, typ string) (domain.Entity, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Entity{}, false
	}
	switch domain.EntityType(strings.ToLower(strings.TrimSpace(typ))) {
	case domain.EntityThreatActor:
		return domain.Entity{Name: name, Type: domain.EntityThreatActor}, true
	case domain.EntityMalware:
		return domain.Entity{Name: name, Type: domain.EntityMalware}, true
	case domain.EntityCVE:
		return domain.Entity{Name: name, Type: domain.EntityCVE}, true
	case domain.EntityOrganization:
		return domain.Entity{Name: name, Type: domain.EntityOrganization}, true
	default:
		return domain.Entity{}, false
	}
}
