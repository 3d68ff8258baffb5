// Package coordinator owns the live session: roster, open question, history
// and chat. All mutation happens on one goroutine fed by one FIFO queue.
package coordinator

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"livepoll/internal/clock"
	"livepoll/internal/poll"
	"livepoll/internal/session"
	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

// Config sizes the coordinator's queue and stores
type Config struct {
	QueueSize      int
	HistoryLimit   int
	ChatLimit      int
	ChatMaxLength  int
	NameMaxLength  int
	ArchiveTimeout time.Duration
	Limits         poll.Limits
}

// DefaultConfig returns classroom defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:      1000,
		HistoryLimit:   25,
		ChatLimit:      100,
		ChatMaxLength:  280,
		NameMaxLength:  40,
		ArchiveTimeout: 15 * time.Second,
		Limits:         poll.DefaultLimits(),
	}
}

// event is one unit of work for the loop. done is nil for fire-and-forget events.
type event struct {
	kind string
	run  func()
	done chan struct{}
}

// Coordinator serializes every command, disconnect and timer expiry through
// a single loop, so closure and answer handling never interleave.
type Coordinator struct {
	transport interfaces.Transport
	archive   interfaces.Archive // nil when archiving is disabled
	clock     clock.Clock
	config    Config

	roster    *session.Roster
	lifecycle *poll.Lifecycle
	history   *poll.History
	chat      *poll.ChatLog

	events   chan *event
	shutdown chan struct{}
	stopped  chan struct{}
	running  bool
	mu       sync.RWMutex

	status    atomic.Pointer[types.StatusSnapshot]
	archiveWG sync.WaitGroup
}

// New creates a coordinator. archive may be nil.
func New(transport interfaces.Transport, archive interfaces.Archive, clk clock.Clock, config Config) *Coordinator {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	c := &Coordinator{
		transport: transport,
		archive:   archive,
		clock:     clk,
		config:    config,
		roster:    session.NewRoster(clk, config.NameMaxLength),
		history:   poll.NewHistory(config.HistoryLimit),
		chat:      poll.NewChatLog(config.ChatLimit),
		events:    make(chan *event, config.QueueSize),
	}
	c.lifecycle = poll.NewLifecycle(clk, config.Limits, c.expire)
	c.publishStatus()
	return c
}

// Start begins processing events
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrCoordinatorAlreadyRunning
	}
	c.running = true
	c.shutdown = make(chan struct{})
	c.stopped = make(chan struct{})

	log.Println("Starting session coordinator...")
	go c.run(ctx, c.shutdown, c.stopped)
	return nil
}

// Stop ends the loop, cancels the question timer and waits for pending archive writes
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrCoordinatorNotRunning
	}
	c.running = false
	shutdown, stopped := c.shutdown, c.stopped
	c.mu.Unlock()

	log.Println("Stopping session coordinator...")
	select {
	case <-shutdown:
	default:
		close(shutdown)
	}
	<-stopped
	c.archiveWG.Wait()
	return nil
}

func (c *Coordinator) run(ctx context.Context, shutdown, stopped chan struct{}) {
	defer close(stopped)
	defer log.Println("Session coordinator stopped")
	defer c.lifecycle.Stop()

	for {
		select {
		case ev := <-c.events:
			ev.run()
			c.publishStatus()
			if ev.done != nil {
				close(ev.done)
			}

		case <-shutdown:
			return

		case <-ctx.Done():
			log.Println("Session coordinator context cancelled")
			return
		}
	}
}

func (c *Coordinator) channels() (chan struct{}, chan struct{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutdown, c.stopped, c.running
}

// submit enqueues fn and waits for the loop to run it.
// A full queue fails fast rather than stalling the caller's read loop.
func (c *Coordinator) submit(ctx context.Context, kind string, fn func()) error {
	_, stopped, running := c.channels()
	if !running {
		return ErrCoordinatorNotRunning
	}

	ev := &event{kind: kind, run: fn, done: make(chan struct{})}
	select {
	case c.events <- ev:
	default:
		log.Printf("Coordinator queue full, rejecting %s", kind)
		return ErrEventQueueFull
	}

	select {
	case <-ev.done:
		return nil
	case <-stopped:
		// The loop may have finished this event on its way out
		select {
		case <-ev.done:
			return nil
		default:
			return ErrCoordinatorNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting for it. It blocks only while the queue is
// full, since losing a disconnect or an expiry would leave stale state behind.
func (c *Coordinator) post(kind string, fn func()) error {
	shutdown, _, running := c.channels()
	if !running {
		return ErrCoordinatorNotRunning
	}

	select {
	case c.events <- &event{kind: kind, run: fn}:
		return nil
	case <-shutdown:
		return ErrCoordinatorNotRunning
	}
}

// Status returns the latest published snapshot
func (c *Coordinator) Status() *types.StatusSnapshot {
	return c.status.Load()
}

// TeacherJoin makes the requesting connection the teacher, replacing any previous one
func (c *Coordinator) TeacherJoin(ctx context.Context, req types.Request) (*types.TeacherState, error) {
	var state *types.TeacherState
	err := c.submit(ctx, types.CommandTeacherJoin, func() {
		state = c.teacherJoin(req)
	})
	return state, err
}

// AskQuestion opens a new question and broadcasts it to students
func (c *Coordinator) AskQuestion(ctx context.Context, req types.Request, payload types.AskQuestionPayload) (*types.PublicQuestion, error) {
	var (
		question *types.PublicQuestion
		result   error
	)
	err := c.submit(ctx, types.CommandTeacherAskQuestion, func() {
		question, result = c.askQuestion(req, payload)
	})
	if err != nil {
		return nil, err
	}
	return question, result
}

// KickStudent removes a student permanently. Unknown ids are ignored.
func (c *Coordinator) KickStudent(ctx context.Context, req types.Request, payload types.KickStudentPayload) error {
	return c.submit(ctx, types.CommandTeacherKickStudent, func() {
		c.kickStudent(req, payload)
	})
}

// RequestHistory sends the poll history to the requester
func (c *Coordinator) RequestHistory(ctx context.Context, req types.Request) ([]types.ResultsSnapshot, error) {
	var history []types.ResultsSnapshot
	err := c.submit(ctx, types.CommandTeacherRequestHistory, func() {
		history = c.requestHistory(req)
	})
	return history, err
}

// StudentJoin creates or resumes a student on the requesting connection
func (c *Coordinator) StudentJoin(ctx context.Context, req types.Request, payload types.StudentJoinPayload) (*types.StudentJoinResponse, error) {
	var (
		response *types.StudentJoinResponse
		result   error
	)
	err := c.submit(ctx, types.CommandStudentJoin, func() {
		response, result = c.studentJoin(req, payload)
	})
	if err != nil {
		return nil, err
	}
	return response, result
}

// Answer records a student's answer and closes the question once every active student has answered
func (c *Coordinator) Answer(ctx context.Context, req types.Request, payload types.AnswerPayload) error {
	var result error
	err := c.submit(ctx, types.CommandStudentAnswer, func() {
		result = c.answer(req, payload)
	})
	if err != nil {
		return err
	}
	return result
}

// Chat stores and broadcasts a chat message. Empty content is dropped.
func (c *Coordinator) Chat(ctx context.Context, req types.Request, payload types.ChatPayload) (*types.ChatMessage, error) {
	var (
		message *types.ChatMessage
		result  error
	)
	err := c.submit(ctx, types.CommandChatMessage, func() {
		message, result = c.chatMessage(req, payload)
	})
	if err != nil {
		return nil, err
	}
	return message, result
}

// Disconnect queues the release of whichever slot holds connID
func (c *Coordinator) Disconnect(connID string) error {
	return c.post("disconnect", func() {
		c.disconnect(connID)
	})
}

// expire runs on the clock's goroutine and only hands the id to the loop
func (c *Coordinator) expire(questionID string) {
	err := c.post("timeout", func() {
		current := c.lifecycle.Current()
		if current == nil || current.ID != questionID {
			return
		}
		c.closeQuestion(poll.ReasonTimeout)
	})
	if err != nil {
		log.Printf("Dropped expiry for question=%s: %v", questionID, err)
	}
}

// Loop-side handlers. Everything below runs on the coordinator goroutine only.

func (c *Coordinator) teacherJoin(req types.Request) *types.TeacherState {
	// A connection that was a student is now the teacher
	c.roster.MarkDisconnected(req.ConnID)

	previous := c.roster.JoinTeacher(req.ConnID)
	if previous != "" && previous != req.ConnID {
		c.transport.Release(previous)
	}
	if err := c.transport.Assign(req.ConnID, types.RoleTeacher, types.RoleTeacher); err != nil {
		log.Printf("Failed to assign teacher connection %s: %v", req.ConnID, err)
	}

	state := c.teacherState()
	c.ack(req, types.AckPayload{OK: true})
	c.sendTo(req.ConnID, types.EventTeacherWelcome, state)
	return state
}

func (c *Coordinator) askQuestion(req types.Request, payload types.AskQuestionPayload) (*types.PublicQuestion, error) {
	question, err := c.lifecycle.Open(payload.Text, payload.Options, float64(payload.Duration))
	if err != nil {
		c.reject(req, err)
		return nil, err
	}

	c.ack(req, types.AckPayload{OK: true})
	c.transport.Broadcast(interfaces.GroupStudents, types.NewOutboundMessage(types.EventPollQuestion, question))
	c.pushTeacherState()
	return question, nil
}

func (c *Coordinator) kickStudent(req types.Request, payload types.KickStudentPayload) {
	connID, known := c.roster.Kick(payload.StudentID)
	c.ack(req, types.AckPayload{OK: true})
	if !known {
		return
	}

	if connID != "" {
		c.sendTo(connID, types.EventStudentKicked, types.KickNotice{
			StudentID: payload.StudentID,
			Message:   MessageRemoved,
		})
		c.transport.Release(connID)
	}
	c.pushTeacherState()
}

func (c *Coordinator) requestHistory(req types.Request) []types.ResultsSnapshot {
	history := c.history.List()
	c.ack(req, types.AckPayload{OK: true})
	c.sendTo(req.ConnID, types.EventPollHistory, history)
	return history
}

func (c *Coordinator) studentJoin(req types.Request, payload types.StudentJoinPayload) (*types.StudentJoinResponse, error) {
	view, previous, err := c.roster.JoinStudent(payload.Name, payload.StudentID, req.ConnID)
	if err != nil {
		c.reject(req, err)
		return nil, err
	}

	// A teacher connection that joins as a student gives up the teacher slot
	if c.roster.TeacherConnID() == req.ConnID {
		c.roster.MarkDisconnected(req.ConnID)
	}
	if previous != "" && previous != req.ConnID {
		c.transport.Release(previous)
	}
	if err := c.transport.Assign(req.ConnID, types.RoleStudent, view.ID); err != nil {
		log.Printf("Failed to assign student connection %s: %v", req.ConnID, err)
	}

	response := &types.StudentJoinResponse{
		OK:              true,
		Student:         view,
		CurrentQuestion: c.lifecycle.CurrentPublic(),
		PollHistory:     poll.StudentHistory(c.history.List(), view.ID),
		ChatHistory:     c.chat.List(),
	}
	if optionID, answered := c.lifecycle.AnsweredOption(view.ID); answered {
		response.AnsweredOptionID = optionID
	}

	c.ack(req, response)
	c.pushTeacherState()
	return response, nil
}

func (c *Coordinator) answer(req types.Request, payload types.AnswerPayload) error {
	student, exists := c.roster.Lookup(payload.StudentID)
	if !exists || student.Kicked || student.ConnID != req.ConnID {
		c.reject(req, ErrNotAllowed)
		return ErrNotAllowed
	}

	if err := c.lifecycle.RecordAnswer(student.ID, payload.OptionID); err != nil {
		c.reject(req, err)
		return err
	}

	question := c.lifecycle.Current()
	c.ack(req, types.AckPayload{OK: true})
	c.sendTo(req.ConnID, types.EventPollAnswerConfirmed, types.AnswerConfirmation{
		QuestionID: question.ID,
		OptionID:   payload.OptionID,
	})

	active := c.roster.ActiveStudentIDs()
	c.sendToTeacher(types.EventPollAnswer, types.AnswerProgress{
		StudentID:     student.ID,
		OptionID:      payload.OptionID,
		AnsweredCount: c.lifecycle.AnsweredCount(),
		TotalStudents: len(active),
	})

	if c.lifecycle.AllAnswered(active) {
		c.closeQuestion(poll.ReasonAllAnswered)
	}
	return nil
}

func (c *Coordinator) chatMessage(req types.Request, payload types.ChatPayload) (*types.ChatMessage, error) {
	content := types.NormalizeChatContent(payload.Content, c.config.ChatMaxLength)
	if content == "" {
		c.reject(req, ErrEmptyMessage)
		return nil, ErrEmptyMessage
	}

	role := payload.AuthorRole
	if !types.IsValidRole(role) {
		role = types.RoleStudent
	}
	authorID := strings.TrimSpace(payload.AuthorID)
	if authorID == "" {
		authorID = req.ConnID
	}

	message := types.ChatMessage{
		ID:         uuid.New().String(),
		AuthorID:   authorID,
		AuthorRole: role,
		AuthorName: c.authorName(payload.AuthorName, role, authorID),
		Content:    content,
		CreatedAt:  c.clock.Now(),
	}
	c.chat.Append(message)

	c.ack(req, types.AckPayload{OK: true})
	c.transport.Broadcast(interfaces.GroupAll, types.NewOutboundMessage(types.EventChatMessage, message))
	c.archiveChat(message)
	return &message, nil
}

func (c *Coordinator) authorName(supplied, role, authorID string) string {
	fallback := types.DefaultStudentName
	switch {
	case role == types.RoleTeacher:
		fallback = types.DefaultTeacherName
	case authorID != "":
		if name := c.roster.Name(authorID); name != "" {
			fallback = name
		}
	}
	return types.NormalizeName(supplied, c.config.NameMaxLength, fallback)
}

func (c *Coordinator) disconnect(connID string) {
	switch c.roster.MarkDisconnected(connID) {
	case types.RoleTeacher:
		log.Printf("Teacher disconnected: conn=%s", connID)
	case types.RoleStudent:
		c.pushTeacherState()
	}
}

// closeQuestion publishes results exactly once per question
func (c *Coordinator) closeQuestion(reason string) {
	snapshot, closed := c.lifecycle.Close(reason, c.roster.Name)
	if !closed {
		return
	}

	c.history.Prepend(snapshot)
	c.archivePoll(snapshot)

	c.transport.Broadcast(interfaces.GroupTeachers, types.NewOutboundMessage(types.EventPollResults, snapshot))
	for _, studentID := range c.roster.ActiveStudentIDs() {
		student, _ := c.roster.Lookup(studentID)
		c.sendTo(student.ConnID, types.EventPollResults, poll.StudentView(snapshot, studentID))
	}
	c.pushTeacherState()
}

func (c *Coordinator) teacherState() *types.TeacherState {
	return &types.TeacherState{
		Students:        c.roster.Summary(),
		CurrentQuestion: c.lifecycle.CurrentPublic(),
		PollHistory:     c.history.List(),
		ChatHistory:     c.chat.List(),
	}
}

func (c *Coordinator) pushTeacherState() {
	c.sendToTeacher(types.EventTeacherState, c.teacherState())
}

func (c *Coordinator) sendToTeacher(eventType string, payload interface{}) {
	if connID := c.roster.TeacherConnID(); connID != "" {
		c.sendTo(connID, eventType, payload)
	}
}

func (c *Coordinator) sendTo(connID, eventType string, payload interface{}) {
	c.deliver(connID, types.NewOutboundMessage(eventType, payload))
}

func (c *Coordinator) deliver(connID string, message *types.OutboundMessage) {
	if err := c.transport.SendTo(connID, message); err != nil {
		log.Printf("Dropped %s for conn=%s: %v", message.Type, connID, err)
	}
}

// ack answers a command that carried an ack id; it always precedes the command's fan-out
func (c *Coordinator) ack(req types.Request, payload interface{}) {
	if req.AckID == "" {
		return
	}
	c.deliver(req.ConnID, types.NewAckMessage(req.AckID, payload))
}

func (c *Coordinator) reject(req types.Request, err error) {
	c.ack(req, types.AckPayload{OK: false, Message: RejectionMessage(err)})
}

func (c *Coordinator) archivePoll(snapshot types.ResultsSnapshot) {
	if c.archive == nil {
		return
	}
	c.archiveAsync("poll results", func(ctx context.Context) error {
		return c.archive.StorePollResults(ctx, &snapshot)
	})
}

func (c *Coordinator) archiveChat(message types.ChatMessage) {
	if c.archive == nil {
		return
	}
	c.archiveAsync("chat message", func(ctx context.Context) error {
		return c.archive.StoreChatMessage(ctx, &message)
	})
}

// archiveAsync keeps database latency off the loop
func (c *Coordinator) archiveAsync(what string, store func(ctx context.Context) error) {
	timeout := c.config.ArchiveTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ArchiveTimeout
	}

	c.archiveWG.Add(1)
	go func() {
		defer c.archiveWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := store(ctx); err != nil {
			log.Printf("Failed to archive %s: %v", what, err)
		}
	}()
}

func (c *Coordinator) publishStatus() {
	current := c.lifecycle.CurrentPublic()
	history := c.history.List()
	for i := range history {
		history[i] = history[i].WithoutBreakdown()
	}

	c.status.Store(&types.StatusSnapshot{
		CurrentQuestion: current,
		PollHistory:     history,
		TeacherOnline:   c.roster.TeacherConnID() != "",
		KnownStudents:   c.roster.Len(),
		ActiveStudents:  len(c.roster.ActiveStudentIDs()),
		AnsweredCount:   c.lifecycle.AnsweredCount(),
		ChatMessages:    c.chat.Len(),
		UpdatedAt:       c.clock.Now(),
	})
}
