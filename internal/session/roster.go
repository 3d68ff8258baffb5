package session

import (
	"log"
	"time"

	"github.com/google/uuid"
	"livepoll/internal/clock"
	"livepoll/pkg/types"
)

// Student is one known participant. Identity survives reconnects; ConnID is
// only set while a transport link is live. Kicked never reverts.
type Student struct {
	ID       string
	Name     string
	JoinedAt time.Time
	Kicked   bool
	ConnID   string
}

// Roster tracks the teacher connection and every student seen this session.
// It is not safe for concurrent use; the coordinator loop is its only caller.
type Roster struct {
	clock         clock.Clock
	nameMaxLength int
	teacherConnID string
	students      map[string]*Student // studentID -> Student
	order         []string            // join order for roster display
}

// NewRoster creates an empty roster
func NewRoster(clk clock.Clock, nameMaxLength int) *Roster {
	return &Roster{
		clock:         clk,
		nameMaxLength: nameMaxLength,
		students:      make(map[string]*Student),
	}
}

// JoinTeacher makes connID the teacher connection and returns the one it replaced
func (r *Roster) JoinTeacher(connID string) string {
	previous := r.teacherConnID
	r.teacherConnID = connID
	if previous != "" && previous != connID {
		log.Printf("Teacher connection replaced: old=%s new=%s", previous, connID)
	}
	return previous
}

// TeacherConnID returns the live teacher connection, or "" when absent
func (r *Roster) TeacherConnID() string {
	return r.teacherConnID
}

// JoinStudent creates or resumes a student and binds it to connID.
// It returns the connection the student was previously bound to, if any.
func (r *Roster) JoinStudent(name, studentID, connID string) (types.StudentView, string, error) {
	trimmedName := types.NormalizeName(name, r.nameMaxLength, types.DefaultStudentName)

	// Unknown or malformed resume ids are treated as a first join
	id := studentID
	if !types.IsValidIdentifier(id) {
		id = ""
	}

	student, exists := r.students[id]
	if exists && student.Kicked {
		return types.StudentView{}, "", ErrStudentRemoved
	}

	// A connection speaks for one student at a time
	r.detachConnection(connID)

	previousConn := ""
	if !exists {
		if id == "" {
			id = uuid.New().String()
		}
		student = &Student{
			ID:       id,
			Name:     trimmedName,
			JoinedAt: r.clock.Now(),
		}
		r.students[id] = student
		r.order = append(r.order, id)
		log.Printf("Student joined: id=%s name=%q", id, trimmedName)
	} else {
		previousConn = student.ConnID
		student.Name = trimmedName
		log.Printf("Student rejoined: id=%s name=%q", id, trimmedName)
	}
	student.ConnID = connID

	return types.StudentView{ID: student.ID, Name: student.Name}, previousConn, nil
}

// Kick permanently removes a student. It returns the connection that was live
// at the time (to be notified) and whether the id was known at all.
func (r *Roster) Kick(studentID string) (string, bool) {
	student, exists := r.students[studentID]
	if !exists {
		return "", false
	}

	connID := student.ConnID
	student.Kicked = true
	student.ConnID = ""
	log.Printf("Student kicked: id=%s", studentID)
	return connID, true
}

// MarkDisconnected clears whichever slot holds connID and reports the role it held
func (r *Roster) MarkDisconnected(connID string) string {
	if connID == "" {
		return ""
	}
	if r.teacherConnID == connID {
		r.teacherConnID = ""
		return types.RoleTeacher
	}
	for _, student := range r.students {
		if student.ConnID == connID {
			student.ConnID = ""
			return types.RoleStudent
		}
	}
	return ""
}

// ActiveStudentIDs returns students that are connected and not kicked, in join order
func (r *Roster) ActiveStudentIDs() []string {
	active := make([]string, 0, len(r.order))
	for _, id := range r.order {
		student := r.students[id]
		if !student.Kicked && student.ConnID != "" {
			active = append(active, id)
		}
	}
	return active
}

// Summary returns every known student in join order, kicked ones included
func (r *Roster) Summary() []types.StudentSummary {
	summary := make([]types.StudentSummary, 0, len(r.order))
	for _, id := range r.order {
		student := r.students[id]
		summary = append(summary, types.StudentSummary{
			ID:        student.ID,
			Name:      student.Name,
			JoinedAt:  student.JoinedAt,
			Kicked:    student.Kicked,
			Connected: student.ConnID != "",
		})
	}
	return summary
}

// Lookup returns a copy of a student record
func (r *Roster) Lookup(studentID string) (Student, bool) {
	student, exists := r.students[studentID]
	if !exists {
		return Student{}, false
	}
	return *student, true
}

// Name returns the student's display name, or "" when unknown
func (r *Roster) Name(studentID string) string {
	if student, exists := r.students[studentID]; exists {
		return student.Name
	}
	return ""
}

// Len returns the number of known students
func (r *Roster) Len() int {
	return len(r.order)
}

func (r *Roster) detachConnection(connID string) {
	if connID == "" {
		return
	}
	for _, student := range r.students {
		if student.ConnID == connID {
			student.ConnID = ""
		}
	}
}
