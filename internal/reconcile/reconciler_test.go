package reconcile

import (
	"context"
	"testing"
	"time"

	"OsintAggregator/internal/canonical"
	"OsintAggregator/internal/domain"
)

type fakeChannel struct {
	messages []domain.HumanMessage
	since    time.Time
}

func (f *fakeChannel) RecentMessages(_ context.Context, since time.Time) ([]domain.HumanMessage, error) {
	f.since = since
	return f.messages, nil
}

func candidateFor(t *testing.T, rawURL, title string) domain.Candidate {
	t.Helper()
	cand, err := canonical.Candidate(domain.RawItem{URL: rawURL, Title: title}, "test", time.Now())
	if err != nil {
		t.Fatalf("build candidate: %v", err)
	}
	return cand
}

func TestReconcileMatchesByURL(t *testing.T) {
	t.Parallel()

	channel := &fakeChannel{messages: []domain.HumanMessage{{
		Text:     "Confirmed: LockBit affiliate hit the hospital chain. https://news.example/Breach?utm_source=tg",
		URLs:     []string{"https://news.example/Breach?utm_source=tg"},
		PostedAt: time.Now(),
	}}}

	r := New(channel, 72*time.Hour, nil)
	if err := r.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// Different query-param noise, same canonical identity.
	cand := candidateFor(t, "https://news.example/Breach?utm_medium=mail", "Completely different title")
	decision := r.Reconcile(cand)

	if decision.Kind != MatchURL {
		t.Fatalf("expected url match, got %q", decision.Kind)
	}
	if decision.NeedsReview {
		t.Fatal("url match must not be flagged for review")
	}
	if decision.Summary != "Confirmed: LockBit affiliate hit the hospital chain." {
		t.Fatalf("summary should drop the link: %q", decision.Summary)
	}
}

func TestReconcileMatchesByTitleTokens(t *testing.T) {
	t.Parallel()

	channel := &fakeChannel{messages: []domain.HumanMessage{{
		Text:     "Wrote this up earlier: new ransomware campaign targets healthcare providers across Europe.",
		PostedAt: time.Now(),
	}}}

	r := New(channel, 72*time.Hour, nil)
	if err := r.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	cand := candidateFor(t, "https://other.example/story", "New Ransomware Campaign Targets Healthcare Providers")
	decision := r.Reconcile(cand)

	if decision.Kind != MatchTitle {
		t.Fatalf("expected title match, got %q", decision.Kind)
	}
	if !decision.NeedsReview {
		t.Fatal("title match must be flagged for review")
	}
}

func TestReconcileIgnoresWeakTitleOverlap(t *testing.T) {
	t.Parallel()

	channel := &fakeChannel{messages: []domain.HumanMessage{{
		Text:     "Ransomware note: nothing else in common with the candidate headline.",
		PostedAt: time.Now(),
	}}}

	r := New(channel, 72*time.Hour, nil)
	if err := r.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	cand := candidateFor(t, "https://other.example/story", "Ransomware Gang Leaks Stolen Hospital Records")
	if decision := r.Reconcile(cand); decision.Matched() {
		t.Fatalf("weak overlap matched: %+v", decision)
	}
}

func TestReconcileWithoutChannel(t *testing.T) {
	t.Parallel()

	r := New(nil, 72*time.Hour, nil)
	if err := r.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot without channel: %v", err)
	}
	cand := candidateFor(t, "https://news.example/a", "Anything")
	if decision := r.Reconcile(cand); decision.Matched() {
		t.Fatal("nil channel must never match")
	}
}

func TestSnapshotAppliesLookback(t *testing.T) {
	t.Parallel()

	channel := &fakeChannel{}
	r := New(channel, 48*time.Hour, nil)
	if err := r.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	age := time.Since(channel.since)
	if age < 47*time.Hour || age > 49*time.Hour {
		t.Fatalf("lookback not applied, since=%v", channel.since)
	}
}
