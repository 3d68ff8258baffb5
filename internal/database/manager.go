// Package database implements the write-behind archive of closed polls and chat.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	dbconfig "livepoll/pkg/database"
	"livepoll/pkg/types"
)

// Archive manager errors
var (
	ErrManagerClosed = errors.New("archive manager is closed")
	ErrWriteTimeout  = errors.New("archive write operation timeout")
)

// DefaultListLimit applies when a listing asks for zero or fewer rows
const DefaultListLimit = 50

// Manager implements interfaces.Archive
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // single writer, required by SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
	writeTimeout time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the archive database, applies migrations and validates the schema
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive config: %w", err)
	}

	if err := config.EnsureDirectory(); err != nil {
		return nil, err
	}

	db, err := sql.Open(config.Driver, config.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := dbconfig.ApplyOptimizations(db, config.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db, config.Driver)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply archive migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive schema invalid: %w", err)
	}
	log.Printf("Archive ready: driver=%s", config.Driver)

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		writeTimeout: 30 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once after a short delay
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Archive write failed, retrying in %v: %v", m.retryDelay, err)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(m.db)
					if err != nil {
						log.Printf("Archive write failed after retry: %v", err)
					}
				case <-m.shutdown:
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Archive write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(m.writeTimeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

func (m *Manager) rebind(query string) string {
	return dbconfig.Rebind(m.config.Driver, query)
}

// StorePollResults records a closed question and its per-student breakdown atomically
func (m *Manager) StorePollResults(ctx context.Context, snapshot *types.ResultsSnapshot) error {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal results snapshot: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, m.rebind(`
			INSERT INTO poll_results (id, question_text, created_at, closed_at, duration, close_reason, total_responses, snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`),
			snapshot.ID,
			snapshot.Text,
			snapshot.CreatedAt.UTC(),
			snapshot.ClosedAt.UTC(),
			snapshot.Duration,
			snapshot.CloseReason,
			snapshot.TotalResponses,
			string(encoded),
		)
		if err != nil {
			return fmt.Errorf("failed to insert poll results: %w", err)
		}

		insertAnswer := m.rebind(`
			INSERT INTO poll_answers (poll_id, student_id, student_name, option_id, option_label, is_correct, answered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		for _, answer := range snapshot.Students {
			_, err = tx.ExecContext(ctx, insertAnswer,
				snapshot.ID,
				answer.StudentID,
				answer.Name,
				answer.OptionID,
				answer.OptionLabel,
				answer.IsCorrect,
				answer.AnsweredAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert answer for student %s: %w", answer.StudentID, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit poll results: %w", err)
		}
		return nil
	})
}

// StoreChatMessage records an accepted chat message
func (m *Manager) StoreChatMessage(ctx context.Context, message *types.ChatMessage) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, m.rebind(`
			INSERT INTO chat_messages (id, author_id, author_role, author_name, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`),
			message.ID,
			message.AuthorID,
			message.AuthorRole,
			message.AuthorName,
			message.Content,
			message.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		return nil
	})
}

// ListPollResults returns the most recent snapshots, newest first
func (m *Manager) ListPollResults(ctx context.Context, limit int) ([]*types.ResultsSnapshot, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	rows, err := m.db.QueryContext(ctx, m.rebind(`
		SELECT snapshot
		FROM poll_results
		ORDER BY closed_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query poll results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []*types.ResultsSnapshot
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan poll results row: %w", err)
		}

		var snapshot types.ResultsSnapshot
		if err := json.Unmarshal([]byte(encoded), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results snapshot: %w", err)
		}
		snapshots = append(snapshots, &snapshot)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating poll results rows: %w", err)
	}
	return snapshots, nil
}

// ListChatMessages returns the most recent chat messages, oldest first
func (m *Manager) ListChatMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := m.db.QueryContext(ctx, m.rebind(`
		SELECT id, author_id, author_role, author_name, content, created_at
		FROM chat_messages
		ORDER BY created_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var message types.ChatMessage
		err := rows.Scan(
			&message.ID,
			&message.AuthorID,
			&message.AuthorRole,
			&message.AuthorName,
			&message.Content,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		messages = append(messages, &message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat message rows: %w", err)
	}

	// Newest-first query, chronological result
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM poll_results").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Driver returns the configured driver name
func (m *Manager) Driver() string {
	return m.config.Driver
}

// Close stops the writer and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
