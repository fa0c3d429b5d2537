// Package reconcile matches freshly discovered articles against prior
// analyst posts in the human channel, so human-authored summaries take
// precedence over automated analysis.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"OsintAggregator/internal/canonical"
	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

// titleMatchThreshold is the minimum share of title tokens that must
// appear in a channel message for a title match.
const titleMatchThreshold = 0.6

// MatchKind records how a human message was matched to an article.
// Title matches are a weaker signal and are flagged for review instead
// of being silently trusted less.
type MatchKind string

const (
	MatchNone  MatchKind = ""
	MatchURL   MatchKind = "url"
	MatchTitle MatchKind = "title"
)

// Decision is the outcome of reconciling one candidate.
type Decision struct {
	Kind        MatchKind
	Summary     string
	NeedsReview bool
}

// Matched reports whether a prior human message covers the candidate.
func (d Decision) Matched() bool { return d.Kind != MatchNone }

// Reconciler checks candidates against a snapshot of recent channel
// messages. Snapshot is taken once per run; the channel is free text,
// so matching is by canonical URL first and title tokens second.
type Reconciler struct {
	channel  ports.HumanChannel
	lookback time.Duration
	logger   *slog.Logger

	messages []indexedMessage
}

type indexedMessage struct {
	msg    domain.HumanMessage
	keys   map[string]struct{}
	tokens map[string]struct{}
}

// New builds a reconciler. A nil channel disables reconciliation; every
// candidate then gets an empty decision.
func New(channel ports.HumanChannel, lookback time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		channel:  channel,
		lookback: lookback,
		logger:   logger.With("component", "reconciler"),
	}
}

// Snapshot loads recent channel messages for the current run.
func (r *Reconciler) Snapshot(ctx context.Context) error {
	r.messages = nil
	if r.channel == nil {
		return nil
	}

	since := time.Now().Add(-r.lookback)
	msgs, err := r.channel.RecentMessages(ctx, since)
	if err != nil {
		return fmt.Errorf("load human channel messages: %w", err)
	}

	for _, msg := range msgs {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		r.messages = append(r.messages, index(msg))
	}
	r.logger.Debug("human channel snapshot", "messages", len(r.messages))
	return nil
}

// Reconcile decides whether a human message already covers the
// candidate. URL matches are authoritative; title matches are accepted
// with NeedsReview set.
func (r *Reconciler) Reconcile(cand domain.Candidate) Decision {
	for _, im := range r.messages {
		if _, ok := im.keys[cand.IdentityKey]; ok {
			return Decision{Kind: MatchURL, Summary: summaryFrom(im.msg)}
		}
	}

	titleTokens := tokenize(cand.Title)
	if len(titleTokens) == 0 {
		return Decision{}
	}
	for _, im := range r.messages {
		if titleCoverage(titleTokens, im.tokens) >= titleMatchThreshold {
			r.logger.Info("title-level human match, flagged for review",
				"identity_key", cand.IdentityKey, "title", cand.Title)
			return Decision{Kind: MatchTitle, Summary: summaryFrom(im.msg), NeedsReview: true}
		}
	}
	return Decision{}
}

func index(msg domain.HumanMessage) indexedMessage {
	im := indexedMessage{
		msg:    msg,
		keys:   make(map[string]struct{}, len(msg.URLs)),
		tokens: tokenSet(tokenize(msg.Text)),
	}
	for _, raw := range msg.URLs {
		norm, err := canonical.Normalize(raw)
		if err != nil {
			continue
		}
		im.keys[canonical.IdentityKey(norm)] = struct{}{}
	}
	return im
}

// summaryFrom strips URLs out of the message text; what remains is the
// analyst's own writeup.
func summaryFrom(msg domain.HumanMessage) string {
	fields := strings.Fields(msg.Text)
	kept := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// tokenize lowercases and keeps words of three or more characters;
// short function words carry no matching signal.
func tokenize(s string) []string {
	var tokens []string
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,:;!?\"'()[]")
		if len(f) >= 3 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func titleCoverage(title []string, message map[string]struct{}) float64 {
	if len(title) == 0 {
		return 0
	}
	matched := 0
	for _, t := range title {
		if _, ok := message[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(title))
}
