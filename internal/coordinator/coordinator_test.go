package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"livepoll/internal/clock"
	"livepoll/internal/poll"
	"livepoll/internal/session"
	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

// fakeTransport records every frame per connection and resolves groups by role
type fakeTransport struct {
	mu     sync.Mutex
	roles  map[string]string // connID -> role ("" when unassigned)
	frames map[string][]*types.OutboundMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		roles:  make(map[string]string),
		frames: make(map[string][]*types.OutboundMessage),
	}
}

func (f *fakeTransport) connect(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[connID] = ""
}

func (f *fakeTransport) drop(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roles, connID)
}

func (f *fakeTransport) SendTo(connID string, message *types.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.roles[connID]; !exists {
		return interfaces.ErrConnectionNotFound
	}
	f.frames[connID] = append(f.frames[connID], message)
	return nil
}

func (f *fakeTransport) Broadcast(group string, message *types.OutboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for connID, role := range f.roles {
		switch {
		case group == interfaces.GroupAll,
			group == interfaces.GroupTeachers && role == types.RoleTeacher,
			group == interfaces.GroupStudents && role == types.RoleStudent:
			f.frames[connID] = append(f.frames[connID], message)
		}
	}
}

func (f *fakeTransport) Assign(connID, role, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.roles[connID]; !exists {
		return interfaces.ErrConnectionNotFound
	}
	f.roles[connID] = role
	return nil
}

func (f *fakeTransport) Release(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.roles[connID]; exists {
		f.roles[connID] = ""
	}
}

func (f *fakeTransport) eventTypes(connID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.frames[connID]))
	for _, frame := range f.frames[connID] {
		names = append(names, frame.Type)
	}
	return names
}

func (f *fakeTransport) count(connID, eventType string) int {
	n := 0
	for _, name := range f.eventTypes(connID) {
		if name == eventType {
			n++
		}
	}
	return n
}

func (f *fakeTransport) last(connID, eventType string) *types.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := f.frames[connID]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == eventType {
			return frames[i]
		}
	}
	return nil
}

func (f *fakeTransport) reset(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[connID] = nil
}

// fakeArchive collects writes
type fakeArchive struct {
	mu    sync.Mutex
	polls []*types.ResultsSnapshot
	chats []*types.ChatMessage
}

func (a *fakeArchive) StorePollResults(ctx context.Context, snapshot *types.ResultsSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls = append(a.polls, snapshot)
	return nil
}

func (a *fakeArchive) StoreChatMessage(ctx context.Context, message *types.ChatMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chats = append(a.chats, message)
	return nil
}

func (a *fakeArchive) ListPollResults(ctx context.Context, limit int) ([]*types.ResultsSnapshot, error) {
	return nil, nil
}

func (a *fakeArchive) ListChatMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error) {
	return nil, nil
}

func (a *fakeArchive) HealthCheck(ctx context.Context) error { return nil }
func (a *fakeArchive) Close() error                          { return nil }

type testEnv struct {
	coordinator *Coordinator
	transport   *fakeTransport
	archive     *fakeArchive
	clock       *clock.Manual
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	transport := newFakeTransport()
	archive := &fakeArchive{}
	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	c := New(transport, archive, clk, DefaultConfig())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start coordinator: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Stop(); err != nil && err != ErrCoordinatorNotRunning {
			t.Errorf("Failed to stop coordinator: %v", err)
		}
	})

	return &testEnv{coordinator: c, transport: transport, archive: archive, clock: clk}
}

func (e *testEnv) joinTeacher(t *testing.T, connID string) {
	t.Helper()
	e.transport.connect(connID)
	if _, err := e.coordinator.TeacherJoin(context.Background(), types.Request{ConnID: connID}); err != nil {
		t.Fatalf("TeacherJoin failed: %v", err)
	}
}

func (e *testEnv) joinStudent(t *testing.T, connID, name, studentID string) *types.StudentJoinResponse {
	t.Helper()
	e.transport.connect(connID)
	response, err := e.coordinator.StudentJoin(context.Background(), types.Request{ConnID: connID},
		types.StudentJoinPayload{Name: name, StudentID: studentID})
	if err != nil {
		t.Fatalf("StudentJoin failed: %v", err)
	}
	return response
}

func (e *testEnv) ask(t *testing.T, duration float64) *types.PublicQuestion {
	t.Helper()
	question, err := e.coordinator.AskQuestion(context.Background(), types.Request{ConnID: "teacher"},
		types.AskQuestionPayload{
			Text: "Which is right?",
			Options: []types.OptionInput{
				{ID: "A", Label: "Alpha"},
				{ID: "B", Label: "Beta", IsCorrect: true},
			},
			Duration: types.Seconds(duration),
		})
	if err != nil {
		t.Fatalf("AskQuestion failed: %v", err)
	}
	return question
}

func (e *testEnv) answer(connID, studentID, optionID string) error {
	return e.coordinator.Answer(context.Background(), types.Request{ConnID: connID, AckID: "ack-" + connID},
		types.AnswerPayload{StudentID: studentID, OptionID: optionID})
}

// barrier returns once every event queued before it has been processed
func (e *testEnv) barrier(t *testing.T) {
	t.Helper()
	if err := e.coordinator.submit(context.Background(), "barrier", func() {}); err != nil {
		t.Fatalf("Barrier failed: %v", err)
	}
}

func (e *testEnv) disconnect(t *testing.T, connID string) {
	t.Helper()
	e.transport.drop(connID)
	if err := e.coordinator.Disconnect(connID); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	e.barrier(t)
}

func TestCoordinator_StartStop(t *testing.T) {
	c := New(newFakeTransport(), nil, clock.NewManual(time.Now()), DefaultConfig())
	ctx := context.Background()

	if _, err := c.TeacherJoin(ctx, types.Request{ConnID: "x"}); err != ErrCoordinatorNotRunning {
		t.Errorf("Expected ErrCoordinatorNotRunning before start, got %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(ctx); err != ErrCoordinatorAlreadyRunning {
		t.Errorf("Expected ErrCoordinatorAlreadyRunning, got %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := c.Stop(); err != ErrCoordinatorNotRunning {
		t.Errorf("Expected ErrCoordinatorNotRunning, got %v", err)
	}
	if err := c.Disconnect("x"); err != ErrCoordinatorNotRunning {
		t.Errorf("Expected ErrCoordinatorNotRunning after stop, got %v", err)
	}
}

func TestCoordinator_QueueFullFailsFast(t *testing.T) {
	config := DefaultConfig()
	config.QueueSize = 1
	c := New(newFakeTransport(), nil, clock.NewManual(time.Now()), config)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	c.post("block", func() {
		close(started)
		<-release
	})
	<-started
	c.post("fill", func() {})

	err := c.submit(context.Background(), "overflow", func() {})
	if !errors.Is(err, ErrEventQueueFull) {
		t.Errorf("Expected ErrEventQueueFull, got %v", err)
	}
	close(release)
}

func TestCoordinator_TeacherJoinLastWins(t *testing.T) {
	env := newTestEnv(t)

	env.transport.connect("t1")
	state, err := env.coordinator.TeacherJoin(context.Background(), types.Request{ConnID: "t1", AckID: "1"})
	if err != nil {
		t.Fatalf("TeacherJoin failed: %v", err)
	}
	if state == nil || state.CurrentQuestion != nil {
		t.Errorf("Expected empty state, got %+v", state)
	}
	if got := env.transport.eventTypes("t1"); len(got) != 2 || got[0] != types.EventAck || got[1] != types.EventTeacherWelcome {
		t.Errorf("Expected ack then welcome, got %v", got)
	}

	env.joinTeacher(t, "t2")
	env.joinStudent(t, "s-conn", "Ada", "")

	if env.transport.count("t2", types.EventTeacherState) != 1 {
		t.Error("New teacher should receive roster pushes")
	}
	if env.transport.count("t1", types.EventTeacherState) != 0 {
		t.Error("Replaced teacher should not receive roster pushes")
	}
	if !env.coordinator.Status().TeacherOnline {
		t.Error("Status should report a teacher online")
	}
}

func TestCoordinator_AskQuestionBroadcastsToStudents(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	env.joinStudent(t, "s1", "Ada", "")

	question := env.ask(t, 60)

	frame := env.transport.last("s1", types.EventPollQuestion)
	if frame == nil {
		t.Fatal("Student did not receive the question")
	}
	if public, ok := frame.Payload.(*types.PublicQuestion); !ok || public.ID != question.ID {
		t.Errorf("Unexpected question payload %+v", frame.Payload)
	}
	if env.transport.last("teacher", types.EventPollQuestion) != nil {
		t.Error("Teacher should not receive the student broadcast")
	}
	state := env.transport.last("teacher", types.EventTeacherState).Payload.(*types.TeacherState)
	if state.CurrentQuestion == nil || state.CurrentQuestion.ID != question.ID {
		t.Error("Teacher state should carry the open question")
	}
}

func TestCoordinator_AskWhileOpenRejected(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	first := env.ask(t, 60)

	_, err := env.coordinator.AskQuestion(context.Background(), types.Request{ConnID: "teacher", AckID: "2"},
		types.AskQuestionPayload{Text: "Second", Options: []types.OptionInput{{Label: "x"}, {Label: "y"}}})
	if !errors.Is(err, poll.ErrAlreadyOpen) {
		t.Fatalf("Expected ErrAlreadyOpen, got %v", err)
	}

	ack := env.transport.last("teacher", types.EventAck).Payload.(types.AckPayload)
	if ack.OK || ack.Message != MessageAlreadyOpen {
		t.Errorf("Unexpected rejection ack %+v", ack)
	}
	if current := env.coordinator.Status().CurrentQuestion; current == nil || current.ID != first.ID {
		t.Error("Open question must be unchanged")
	}
}

func TestCoordinator_InvalidQuestionRejected(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")

	_, err := env.coordinator.AskQuestion(context.Background(), types.Request{ConnID: "teacher", AckID: "1"},
		types.AskQuestionPayload{Text: "Only one", Options: []types.OptionInput{{Label: "x"}}})
	if !errors.Is(err, poll.ErrInvalidQuestion) {
		t.Fatalf("Expected ErrInvalidQuestion, got %v", err)
	}
	ack := env.transport.last("teacher", types.EventAck).Payload.(types.AckPayload)
	if ack.Message != MessageInvalidQuestion {
		t.Errorf("Unexpected message %q", ack.Message)
	}
}

func TestCoordinator_AnswerIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")
	env.joinStudent(t, "s2", "Grace", "")
	env.ask(t, 60)

	if err := env.answer("s1", a.Student.ID, "A"); err != nil {
		t.Fatalf("First answer failed: %v", err)
	}
	err := env.answer("s1", a.Student.ID, "B")
	if !errors.Is(err, poll.ErrAlreadyAnswered) {
		t.Fatalf("Expected ErrAlreadyAnswered, got %v", err)
	}
	ack := env.transport.last("s1", types.EventAck).Payload.(types.AckPayload)
	if ack.Message != MessageAlreadyAnswered {
		t.Errorf("Unexpected message %q", ack.Message)
	}
	if env.coordinator.Status().AnsweredCount != 1 {
		t.Errorf("Ledger should hold one answer, got %d", env.coordinator.Status().AnsweredCount)
	}

	progress := env.transport.last("teacher", types.EventPollAnswer).Payload.(types.AnswerProgress)
	if progress.AnsweredCount != 1 || progress.TotalStudents != 2 {
		t.Errorf("Unexpected progress %+v", progress)
	}
}

func TestCoordinator_AnswerRejections(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")

	if err := env.answer("s1", a.Student.ID, "A"); !errors.Is(err, poll.ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
	env.ask(t, 60)

	if err := env.answer("s1", "stranger", "A"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("Expected ErrNotAllowed for unknown student, got %v", err)
	}
	if err := env.answer("other-conn", a.Student.ID, "A"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("Expected ErrNotAllowed from a connection that is not the student's, got %v", err)
	}
	if err := env.answer("s1", a.Student.ID, "Z"); !errors.Is(err, poll.ErrUnknownOption) {
		t.Errorf("Expected ErrUnknownOption, got %v", err)
	}
	if env.coordinator.Status().AnsweredCount != 0 {
		t.Error("Rejected answers must not be recorded")
	}
}

func TestCoordinator_AckPrecedesFanOut(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")
	env.ask(t, 60)
	env.transport.reset("s1")

	if err := env.answer("s1", a.Student.ID, "B"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	got := env.transport.eventTypes("s1")
	want := []string{types.EventAck, types.EventPollAnswerConfirmed, types.EventPollResults}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	view := env.transport.last("s1", types.EventPollResults).Payload.(types.StudentResults)
	if view.SelectedOptionID != "B" || view.AnsweredCorrectly == nil || !*view.AnsweredCorrectly {
		t.Errorf("Unexpected student view %+v", view)
	}
}

func TestCoordinator_FullParticipationClosesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")
	b := env.joinStudent(t, "s2", "Grace", "")
	env.ask(t, 30)

	env.answer("s1", a.Student.ID, "A")
	if env.coordinator.Status().CurrentQuestion == nil {
		t.Fatal("Question must stay open until everyone answered")
	}
	env.answer("s2", b.Student.ID, "B")

	// Expiry after the shortcut closure must be inert
	env.clock.Advance(time.Minute)
	env.barrier(t)

	status := env.coordinator.Status()
	if status.CurrentQuestion != nil {
		t.Error("Question should be closed")
	}
	if len(status.PollHistory) != 1 {
		t.Fatalf("Expected exactly one history entry, got %d", len(status.PollHistory))
	}
	snapshot := status.PollHistory[0]
	if snapshot.CloseReason != poll.ReasonAllAnswered || snapshot.TotalResponses != 2 {
		t.Errorf("Unexpected snapshot %+v", snapshot)
	}
	for _, option := range snapshot.Options {
		if option.Votes != 1 || option.Percentage != 50 {
			t.Errorf("Option %s: expected 1 vote/50%%, got %d/%d%%", option.ID, option.Votes, option.Percentage)
		}
	}
	if snapshot.Students != nil {
		t.Error("Published status must not carry the per-student breakdown")
	}
	if n := env.transport.count("teacher", types.EventPollResults); n != 1 {
		t.Errorf("Teacher should see results once, got %d", n)
	}
	if n := env.transport.count("s1", types.EventPollResults); n != 1 {
		t.Errorf("Student should see results once, got %d", n)
	}

	full := env.transport.last("teacher", types.EventPollResults).Payload.(types.ResultsSnapshot)
	if len(full.Students) != 2 || full.Students[0].Name != "Ada" {
		t.Errorf("Teacher results should carry the breakdown, got %+v", full.Students)
	}
}

func TestCoordinator_TimeoutClosesWithNoStudents(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	env.ask(t, 10)

	env.clock.Advance(9 * time.Second)
	env.barrier(t)
	if env.coordinator.Status().CurrentQuestion == nil {
		t.Fatal("Question closed early")
	}

	env.clock.Advance(time.Second)
	env.barrier(t)

	status := env.coordinator.Status()
	if status.CurrentQuestion != nil {
		t.Fatal("Question should close on timeout")
	}
	if status.PollHistory[0].CloseReason != poll.ReasonTimeout {
		t.Errorf("Expected timeout reason, got %q", status.PollHistory[0].CloseReason)
	}
	for _, option := range status.PollHistory[0].Options {
		if option.Percentage != 0 {
			t.Errorf("Expected 0%% with no responses, got %d", option.Percentage)
		}
	}
}

func TestCoordinator_StaleTimeoutIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")

	first := env.ask(t, 10)
	env.answer("s1", a.Student.ID, "A")
	second := env.ask(t, 60)

	env.coordinator.expire(first.ID)
	env.barrier(t)

	current := env.coordinator.Status().CurrentQuestion
	if current == nil || current.ID != second.ID {
		t.Error("Expiry of an earlier question must not close the current one")
	}
}

func TestCoordinator_DisconnectedStudentExcludedFromCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")
	env.joinStudent(t, "s2", "Grace", "")
	env.ask(t, 60)

	env.disconnect(t, "s2")
	env.answer("s1", a.Student.ID, "A")

	if env.coordinator.Status().CurrentQuestion != nil {
		t.Error("Remaining active students all answered; question should close")
	}
}

func TestCoordinator_ReconnectKeepsAnsweredStatus(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "c1", "Ada", "")
	env.joinStudent(t, "other", "Grace", "")
	env.ask(t, 60)

	// Disconnect before answering, resume, answer once
	env.disconnect(t, "c1")
	resumed := env.joinStudent(t, "c2", "Ada", a.Student.ID)
	if resumed.Student.ID != a.Student.ID {
		t.Fatalf("Expected resumed identity, got %q", resumed.Student.ID)
	}
	if resumed.CurrentQuestion == nil {
		t.Fatal("Resumed student should see the open question")
	}
	if err := env.answer("c2", a.Student.ID, "A"); err != nil {
		t.Fatalf("Answer after reconnect failed: %v", err)
	}

	// Reconnect again: answered state survives
	env.disconnect(t, "c2")
	again := env.joinStudent(t, "c3", "Ada", a.Student.ID)
	if again.AnsweredOptionID != "A" {
		t.Errorf("Expected answered option A on rejoin, got %q", again.AnsweredOptionID)
	}
	if err := env.answer("c3", a.Student.ID, "B"); !errors.Is(err, poll.ErrAlreadyAnswered) {
		t.Errorf("Expected ErrAlreadyAnswered after reconnect, got %v", err)
	}
	if env.coordinator.Status().AnsweredCount != 1 {
		t.Errorf("Expected one answer, got %d", env.coordinator.Status().AnsweredCount)
	}
}

func TestCoordinator_KickIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")

	err := env.coordinator.KickStudent(context.Background(), types.Request{ConnID: "teacher"},
		types.KickStudentPayload{StudentID: a.Student.ID})
	if err != nil {
		t.Fatalf("KickStudent failed: %v", err)
	}

	notice := env.transport.last("s1", types.EventStudentKicked)
	if notice == nil || notice.Payload.(types.KickNotice).Message != MessageRemoved {
		t.Fatal("Kicked connection should be notified")
	}
	state := env.transport.last("teacher", types.EventTeacherState).Payload.(*types.TeacherState)
	if len(state.Students) != 1 || !state.Students[0].Kicked {
		t.Errorf("Roster push should show the kicked student, got %+v", state.Students)
	}

	for i := 0; i < 3; i++ {
		env.transport.connect("retry")
		_, err := env.coordinator.StudentJoin(context.Background(), types.Request{ConnID: "retry", AckID: "r"},
			types.StudentJoinPayload{Name: "Ada", StudentID: a.Student.ID})
		if !errors.Is(err, session.ErrStudentRemoved) {
			t.Fatalf("Attempt %d: expected ErrStudentRemoved, got %v", i, err)
		}
		ack := env.transport.last("retry", types.EventAck).Payload.(types.AckPayload)
		if ack.Message != MessageRemoved {
			t.Errorf("Unexpected message %q", ack.Message)
		}
	}

	env.ask(t, 60)
	if err := env.answer("s1", a.Student.ID, "A"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("Kicked student must not answer, got %v", err)
	}
}

func TestCoordinator_KickUnknownIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	before := env.transport.count("teacher", types.EventTeacherState)

	err := env.coordinator.KickStudent(context.Background(), types.Request{ConnID: "teacher"},
		types.KickStudentPayload{StudentID: "ghost"})
	if err != nil {
		t.Fatalf("KickStudent failed: %v", err)
	}
	if env.transport.count("teacher", types.EventTeacherState) != before {
		t.Error("Unknown kick should not push state")
	}
	if env.coordinator.Status().KnownStudents != 0 {
		t.Error("Unknown kick must not create students")
	}
}

func TestCoordinator_RequestHistory(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	env.ask(t, 10)
	env.clock.Advance(10 * time.Second)
	env.barrier(t)

	history, err := env.coordinator.RequestHistory(context.Background(), types.Request{ConnID: "teacher"})
	if err != nil {
		t.Fatalf("RequestHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(history))
	}
	if env.transport.last("teacher", types.EventPollHistory) == nil {
		t.Error("Requester should receive poll:history")
	}
}

func TestCoordinator_StudentJoinCarriesStudentHistory(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")
	env.ask(t, 60)
	env.answer("s1", a.Student.ID, "B")

	fresh := env.joinStudent(t, "s2", "Grace", "")
	if len(fresh.PollHistory) != 1 {
		t.Fatalf("Expected history on join, got %d", len(fresh.PollHistory))
	}
	if fresh.PollHistory[0].SelectedOptionID != "" {
		t.Error("Another student's pick must not leak")
	}
	if len(fresh.PollHistory[0].CorrectOptionIDs) != 1 || fresh.PollHistory[0].CorrectOptionIDs[0] != "B" {
		t.Errorf("Expected correct option B, got %v", fresh.PollHistory[0].CorrectOptionIDs)
	}
}

func TestCoordinator_ChatBroadcastAndFallbacks(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	a := env.joinStudent(t, "s1", "Ada", "")
	env.transport.connect("lurker")

	ctx := context.Background()
	message, err := env.coordinator.Chat(ctx, types.Request{ConnID: "s1"},
		types.ChatPayload{AuthorID: a.Student.ID, AuthorRole: types.RoleStudent, Content: "  hello  "})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if message.Content != "hello" || message.AuthorName != "Ada" {
		t.Errorf("Unexpected message %+v", message)
	}
	for _, connID := range []string{"teacher", "s1", "lurker"} {
		if env.transport.last(connID, types.EventChatMessage) == nil {
			t.Errorf("%s should receive chat", connID)
		}
	}

	teacherMessage, _ := env.coordinator.Chat(ctx, types.Request{ConnID: "teacher"},
		types.ChatPayload{AuthorRole: types.RoleTeacher, Content: "hi"})
	if teacherMessage.AuthorName != types.DefaultTeacherName || teacherMessage.AuthorID != "teacher" {
		t.Errorf("Unexpected teacher fallbacks %+v", teacherMessage)
	}

	anonymous, _ := env.coordinator.Chat(ctx, types.Request{ConnID: "lurker"},
		types.ChatPayload{AuthorRole: "admin", Content: "hey"})
	if anonymous.AuthorRole != types.RoleStudent || anonymous.AuthorName != types.DefaultStudentName {
		t.Errorf("Unexpected anonymous fallbacks %+v", anonymous)
	}

	_, err = env.coordinator.Chat(ctx, types.Request{ConnID: "s1"}, types.ChatPayload{Content: "   "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
	if env.coordinator.Status().ChatMessages != 3 {
		t.Errorf("Expected 3 stored messages, got %d", env.coordinator.Status().ChatMessages)
	}
}

func TestCoordinator_ChatBounded(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 101; i++ {
		env.coordinator.Chat(context.Background(), types.Request{ConnID: "c"},
			types.ChatPayload{Content: fmt.Sprintf("m%d", i)})
	}

	response := env.joinStudent(t, "s1", "Ada", "")
	if len(response.ChatHistory) != 100 {
		t.Fatalf("Expected 100 messages, got %d", len(response.ChatHistory))
	}
	if response.ChatHistory[0].Content != "m1" || response.ChatHistory[99].Content != "m100" {
		t.Errorf("Unexpected window %s..%s", response.ChatHistory[0].Content, response.ChatHistory[99].Content)
	}
}

func TestCoordinator_HistoryBounded(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")

	var first, last string
	for i := 0; i < 26; i++ {
		question := env.ask(t, 10)
		if i == 0 {
			first = question.ID
		}
		last = question.ID
		env.clock.Advance(10 * time.Second)
		env.barrier(t)
	}

	history := env.coordinator.Status().PollHistory
	if len(history) != 25 {
		t.Fatalf("Expected 25 entries, got %d", len(history))
	}
	if history[0].ID != last {
		t.Error("Most recent question should be first")
	}
	for _, snapshot := range history {
		if snapshot.ID == first {
			t.Error("Oldest question should be evicted")
		}
	}
}

func TestCoordinator_ArchivesClosedPollsAndChat(t *testing.T) {
	env := newTestEnv(t)
	env.joinTeacher(t, "teacher")
	env.ask(t, 10)
	env.clock.Advance(10 * time.Second)
	env.barrier(t)
	env.coordinator.Chat(context.Background(), types.Request{ConnID: "teacher"},
		types.ChatPayload{AuthorRole: types.RoleTeacher, Content: "done"})

	// Stop waits for pending archive writes
	if err := env.coordinator.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	env.archive.mu.Lock()
	defer env.archive.mu.Unlock()
	if len(env.archive.polls) != 1 || env.archive.polls[0].CloseReason != poll.ReasonTimeout {
		t.Errorf("Expected one archived poll, got %+v", env.archive.polls)
	}
	if len(env.archive.chats) != 1 || env.archive.chats[0].Content != "done" {
		t.Errorf("Expected one archived chat message, got %+v", env.archive.chats)
	}
}

func TestRejectionMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{poll.ErrAlreadyOpen, MessageAlreadyOpen},
		{poll.ErrInvalidQuestion, MessageInvalidQuestion},
		{session.ErrStudentRemoved, MessageRemoved},
		{ErrNotAllowed, MessageNotAllowed},
		{poll.ErrNotOpen, MessageNotOpen},
		{poll.ErrAlreadyAnswered, MessageAlreadyAnswered},
		{poll.ErrUnknownOption, MessageUnknownOption},
		{fmt.Errorf("wrapped: %w", ErrEventQueueFull), MessageBusy},
	}

	for _, tt := range tests {
		if got := RejectionMessage(tt.err); got != tt.want {
			t.Errorf("RejectionMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
