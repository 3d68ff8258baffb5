package poll

import "time"

// Entry is one recorded answer
type Entry struct {
	StudentID   string
	OptionIndex int
	AnsweredAt  time.Time
}

// Ledger is the write-once record of answers for one question.
// Entries keep submission order for the per-student breakdown.
type Ledger struct {
	byStudent map[string]int // studentID -> index into entries
	entries   []Entry
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{byStudent: make(map[string]int)}
}

// Record stores an answer. A second record for the same student fails
// with ErrAlreadyAnswered and leaves the first untouched.
func (l *Ledger) Record(studentID string, optionIndex int, at time.Time) error {
	if _, exists := l.byStudent[studentID]; exists {
		return ErrAlreadyAnswered
	}
	l.byStudent[studentID] = len(l.entries)
	l.entries = append(l.entries, Entry{
		StudentID:   studentID,
		OptionIndex: optionIndex,
		AnsweredAt:  at,
	})
	return nil
}

// Lookup returns the answer recorded for a student
func (l *Ledger) Lookup(studentID string) (Entry, bool) {
	index, exists := l.byStudent[studentID]
	if !exists {
		return Entry{}, false
	}
	return l.entries[index], true
}

// HasAnswered reports whether the student has an entry
func (l *Ledger) HasAnswered(studentID string) bool {
	_, exists := l.byStudent[studentID]
	return exists
}

// Len returns the number of answers
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of all answers in submission order
func (l *Ledger) Entries() []Entry {
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return entries
}
