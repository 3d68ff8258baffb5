package poll

import (
	"math"
	"time"

	"livepoll/pkg/types"
)

// NameLookup resolves a student id to a display name
type NameLookup func(studentID string) string

// Percentage rounds votes/total to a whole percent; zero responses give 0
func Percentage(votes, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(votes) / float64(total) * 100))
}

// Aggregate computes the teacher-facing snapshot of a question.
// Percentages are rounded independently and may not sum to 100.
func Aggregate(question *Question, closedAt time.Time, reason string, names NameLookup) types.ResultsSnapshot {
	entries := question.ledger.Entries()
	counts := make([]int, len(question.Options))
	for _, entry := range entries {
		if entry.OptionIndex >= 0 && entry.OptionIndex < len(counts) {
			counts[entry.OptionIndex]++
		}
	}

	total := len(entries)
	options := make([]types.OptionResult, len(question.Options))
	for i, option := range question.Options {
		options[i] = types.OptionResult{
			ID:         option.ID,
			Label:      option.Label,
			IsCorrect:  option.IsCorrect,
			Votes:      counts[i],
			Percentage: Percentage(counts[i], total),
		}
	}

	students := make([]types.StudentAnswer, 0, total)
	for _, entry := range entries {
		option := question.Options[entry.OptionIndex]
		name := ""
		if names != nil {
			name = names(entry.StudentID)
		}
		if name == "" {
			name = types.DefaultStudentName
		}
		students = append(students, types.StudentAnswer{
			StudentID:   entry.StudentID,
			Name:        name,
			OptionID:    option.ID,
			OptionLabel: option.Label,
			IsCorrect:   option.IsCorrect,
			AnsweredAt:  entry.AnsweredAt,
		})
	}

	return types.ResultsSnapshot{
		ID:             question.ID,
		Text:           question.Text,
		CreatedAt:      question.CreatedAt,
		ClosedAt:       closedAt,
		Duration:       question.Duration,
		CloseReason:    reason,
		TotalResponses: total,
		Options:        options,
		Students:       students,
	}
}

// StudentView projects a snapshot for one student: tallies without per-option
// correctness, the correct option ids, and that student's own pick.
func StudentView(snapshot types.ResultsSnapshot, studentID string) types.StudentResults {
	options := make([]types.PublicOptionResult, len(snapshot.Options))
	correct := make([]string, 0, 1)
	for i, option := range snapshot.Options {
		options[i] = types.PublicOptionResult{
			ID:         option.ID,
			Label:      option.Label,
			Votes:      option.Votes,
			Percentage: option.Percentage,
		}
		if option.IsCorrect {
			correct = append(correct, option.ID)
		}
	}

	view := types.StudentResults{
		ID:               snapshot.ID,
		Text:             snapshot.Text,
		CreatedAt:        snapshot.CreatedAt,
		ClosedAt:         snapshot.ClosedAt,
		Duration:         snapshot.Duration,
		TotalResponses:   snapshot.TotalResponses,
		Options:          options,
		CorrectOptionIDs: correct,
	}

	for _, answer := range snapshot.Students {
		if answer.StudentID == studentID {
			answeredCorrectly := answer.IsCorrect
			view.SelectedOptionID = answer.OptionID
			view.AnsweredCorrectly = &answeredCorrectly
			break
		}
	}
	return view
}

// StudentHistory projects every snapshot in order for one student
func StudentHistory(history []types.ResultsSnapshot, studentID string) []types.StudentResults {
	views := make([]types.StudentResults, len(history))
	for i, snapshot := range history {
		views[i] = StudentView(snapshot, studentID)
	}
	return views
}
