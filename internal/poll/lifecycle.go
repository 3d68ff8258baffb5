// Package poll holds the question lifecycle and the state it owns: the answer
// ledger, results aggregation, and the bounded history and chat stores.
package poll

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"livepoll/internal/clock"
	"livepoll/pkg/types"
)

// Close reasons recorded on snapshots
const (
	ReasonTimeout     = "timeout"
	ReasonAllAnswered = "all-answered"
	ReasonManual      = "manual"
)

// State of the lifecycle
type State int

const (
	StateIdle State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Limits bounds what Open accepts
type Limits struct {
	DefaultDuration time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
	MinOptions      int
	MaxOptions      int
}

// DefaultLimits returns the classroom defaults: 60s in [10s,120s], 2-6 options
func DefaultLimits() Limits {
	return Limits{
		DefaultDuration: 60 * time.Second,
		MinDuration:     10 * time.Second,
		MaxDuration:     120 * time.Second,
		MinOptions:      2,
		MaxOptions:      6,
	}
}

// Question is the open question with its private correctness flags and ledger
type Question struct {
	ID        string
	Text      string
	Options   []types.Option
	Duration  int
	CreatedAt time.Time
	ExpiresAt time.Time
	ledger    *Ledger
}

// Public strips correctness from the question
func (q *Question) Public() *types.PublicQuestion {
	options := make([]types.PublicOption, len(q.Options))
	for i, option := range q.Options {
		options[i] = types.PublicOption{ID: option.ID, Label: option.Label}
	}
	return &types.PublicQuestion{
		ID:        q.ID,
		Text:      q.Text,
		Duration:  q.Duration,
		CreatedAt: q.CreatedAt,
		ExpiresAt: q.ExpiresAt,
		Options:   options,
	}
}

func (q *Question) optionIndex(optionID string) int {
	for i, option := range q.Options {
		if option.ID == optionID {
			return i
		}
	}
	return -1
}

// Lifecycle is the Idle/Open state machine for the single in-flight question.
// Not safe for concurrent use; it is owned by the coordinator loop. The expiry
// callback runs on the clock's goroutine and must only hand the id back to
// that loop.
type Lifecycle struct {
	clock    clock.Clock
	limits   Limits
	onExpire func(questionID string)

	current *Question
	timer   clock.Timer
	last    *types.ResultsSnapshot
}

// NewLifecycle creates an idle lifecycle
func NewLifecycle(clk clock.Clock, limits Limits, onExpire func(questionID string)) *Lifecycle {
	return &Lifecycle{
		clock:    clk,
		limits:   limits,
		onExpire: onExpire,
	}
}

// State returns the current state
func (l *Lifecycle) State() State {
	if l.current != nil {
		return StateOpen
	}
	return StateIdle
}

// Current returns the open question, or nil when idle
func (l *Lifecycle) Current() *Question {
	return l.current
}

// CurrentPublic returns the open question without correctness, or nil when idle
func (l *Lifecycle) CurrentPublic() *types.PublicQuestion {
	if l.current == nil {
		return nil
	}
	return l.current.Public()
}

// Open validates and opens a question, scheduling its expiry
func (l *Lifecycle) Open(text string, inputs []types.OptionInput, durationSeconds float64) (*types.PublicQuestion, error) {
	if l.current != nil {
		return nil, ErrAlreadyOpen
	}

	trimmedText := strings.TrimSpace(text)
	options := l.buildOptions(inputs)
	if trimmedText == "" || len(options) < l.limits.MinOptions {
		return nil, ErrInvalidQuestion
	}
	if len(options) > l.limits.MaxOptions {
		return nil, ErrTooManyOptions
	}

	duration := types.ClampDuration(durationSeconds, l.limits.DefaultDuration, l.limits.MinDuration, l.limits.MaxDuration)
	now := l.clock.Now()
	question := &Question{
		ID:        uuid.New().String(),
		Text:      trimmedText,
		Options:   options,
		Duration:  duration,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(duration) * time.Second),
		ledger:    NewLedger(),
	}

	questionID := question.ID
	l.current = question
	l.timer = l.clock.AfterFunc(time.Duration(duration)*time.Second, func() {
		if l.onExpire != nil {
			l.onExpire(questionID)
		}
	})

	log.Printf("Question opened: question=%s options=%d duration=%ds", question.ID, len(options), duration)
	return question.Public(), nil
}

// buildOptions drops blank labels and keeps supplied ids only when usable and unique
func (l *Lifecycle) buildOptions(inputs []types.OptionInput) []types.Option {
	options := make([]types.Option, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, input := range inputs {
		label := strings.TrimSpace(input.Label)
		if label == "" {
			continue
		}
		id := strings.TrimSpace(input.ID)
		if !types.IsValidIdentifier(id) || seen[id] {
			id = uuid.New().String()
		}
		seen[id] = true
		options = append(options, types.Option{
			ID:        id,
			Label:     label,
			IsCorrect: input.IsCorrect,
		})
	}
	return options
}

// RecordAnswer stores a student's answer to the open question.
// Membership is the caller's concern; this only enforces the ledger rules.
func (l *Lifecycle) RecordAnswer(studentID, optionID string) error {
	if l.current == nil {
		return ErrNotOpen
	}
	if l.current.ledger.HasAnswered(studentID) {
		return ErrAlreadyAnswered
	}
	index := l.current.optionIndex(optionID)
	if index < 0 {
		return ErrUnknownOption
	}
	return l.current.ledger.Record(studentID, index, l.clock.Now())
}

// AnsweredOption returns the option id a student picked on the open question
func (l *Lifecycle) AnsweredOption(studentID string) (string, bool) {
	if l.current == nil {
		return "", false
	}
	entry, exists := l.current.ledger.Lookup(studentID)
	if !exists {
		return "", false
	}
	return l.current.Options[entry.OptionIndex].ID, true
}

// AnsweredCount returns how many answers the open question has
func (l *Lifecycle) AnsweredCount() int {
	if l.current == nil {
		return 0
	}
	return l.current.ledger.Len()
}

// AllAnswered reports whether every id in studentIDs has answered.
// An empty set never counts as complete.
func (l *Lifecycle) AllAnswered(studentIDs []string) bool {
	if l.current == nil || len(studentIDs) == 0 {
		return false
	}
	for _, id := range studentIDs {
		if !l.current.ledger.HasAnswered(id) {
			return false
		}
	}
	return true
}

// Close ends the open question and returns its snapshot with closed=true.
// When nothing is open it returns the previous snapshot with closed=false,
// so a second close from the other trigger has no effect.
func (l *Lifecycle) Close(reason string, names NameLookup) (types.ResultsSnapshot, bool) {
	if l.current == nil {
		if l.last != nil {
			return *l.last, false
		}
		return types.ResultsSnapshot{}, false
	}

	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}

	question := l.current
	l.current = nil

	snapshot := Aggregate(question, l.clock.Now(), reason, names)
	l.last = &snapshot

	log.Printf("Question closed: question=%s reason=%s responses=%d", question.ID, reason, snapshot.TotalResponses)
	return snapshot, true
}

// Stop cancels a pending expiry without closing the question
func (l *Lifecycle) Stop() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
