// Package aggregators accumulates the rolling transcript of a session:
// finalized user and agent lines plus the agent's in-flight tentative text.
package aggregators

import (
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Entry is one finalized transcript line.
type Entry struct {
	Role Role
	Text string
	At   time.Time
}

type TranscriptConfig struct {
	MaxHistory int
}

// TranscriptAggregator keeps a bounded history of finalized lines. Tentative
// agent text is held separately and replaced wholesale by each update; it
// only enters history when the final agent_response arrives.
type TranscriptAggregator struct {
	mu         sync.Mutex
	maxHistory int
	tentative  string
	entries    []Entry
}

func NewTranscriptAggregator(cfg TranscriptConfig) *TranscriptAggregator {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 64
	}
	return &TranscriptAggregator{maxHistory: cfg.MaxHistory}
}

// AddUser appends a finalized user transcript line.
func (a *TranscriptAggregator) AddUser(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	a.append(Entry{Role: RoleUser, Text: text, At: time.Now()})
	a.mu.Unlock()
}

// SetTentative replaces the agent's in-flight text. Later tentative updates
// supersede earlier ones completely.
func (a *TranscriptAggregator) SetTentative(text string) {
	a.mu.Lock()
	a.tentative = text
	a.mu.Unlock()
}

// FinalizeAgent commits the agent's turn and clears any tentative text.
func (a *TranscriptAggregator) FinalizeAgent(text string) {
	text = strings.TrimSpace(text)
	a.mu.Lock()
	a.tentative = ""
	if text != "" {
		a.append(Entry{Role: RoleAgent, Text: text, At: time.Now()})
	}
	a.mu.Unlock()
}

// Correct rewrites the most recent agent line matching original. Corrections
// arrive when the agent revises text it already finalized, typically after
// an interruption cut the spoken audio short.
func (a *TranscriptAggregator) Correct(original, corrected string) {
	corrected = strings.TrimSpace(corrected)
	if corrected == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Role != RoleAgent {
			continue
		}
		if original == "" || a.entries[i].Text == strings.TrimSpace(original) {
			a.entries[i].Text = corrected
			a.entries[i].At = time.Now()
			return
		}
	}
	a.append(Entry{Role: RoleAgent, Text: corrected, At: time.Now()})
}

// Tentative returns the agent's current in-flight text, empty when none.
func (a *TranscriptAggregator) Tentative() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tentative
}

// History returns a copy of the finalized lines, oldest first.
func (a *TranscriptAggregator) History() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Reset drops all transcript state, for reuse across sessions.
func (a *TranscriptAggregator) Reset() {
	a.mu.Lock()
	a.tentative = ""
	a.entries = nil
	a.mu.Unlock()
}

func (a *TranscriptAggregator) append(e Entry) {
	a.entries = append(a.entries, e)
	if len(a.entries) > a.maxHistory {
		a.entries = a.entries[len(a.entries)-a.maxHistory:]
	}
}
