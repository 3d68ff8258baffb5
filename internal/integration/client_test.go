package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"livepoll/internal/app"
	"livepoll/internal/config"
)

const waitTimeout = 3 * time.Second

// frame is one outbound message as a client receives it
type frame struct {
	Type    string          `json:"type"`
	AckID   string          `json:"ackId"`
	Payload json.RawMessage `json:"payload"`
}

func (f frame) decode(t *testing.T, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(f.Payload, into); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", f.Type, f.Payload, err)
	}
}

// testClient is a participant connection that records every frame it receives
type testClient struct {
	t    *testing.T
	conn *websocket.Conn

	mu       sync.Mutex
	frames   []frame
	consumed []bool
	notify   chan struct{}
	done     chan struct{}
	nextAck  int
}

// startServer runs the full application on a free port with a temporary archive
func startServer(t *testing.T) (*app.Application, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Archive.DSN = filepath.Join(t.TempDir(), "archive.db")

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application, application.GetAddr()
}

func connect(t *testing.T, addr string) *testClient {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	client := &testClient{
		t:      t,
		conn:   conn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go client.readLoop()
	t.Cleanup(client.close)
	return client
}

func (c *testClient) readLoop() {
	defer close(c.done)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		c.mu.Lock()
		c.frames = append(c.frames, f)
		c.consumed = append(c.consumed, false)
		c.mu.Unlock()

		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
}

func (c *testClient) close() {
	_ = c.conn.Close()
	<-c.done
}

// send writes a command and returns its ack id
func (c *testClient) send(commandType string, payload interface{}) string {
	c.t.Helper()
	c.mu.Lock()
	c.nextAck++
	ackID := fmt.Sprintf("ack-%d", c.nextAck)
	c.mu.Unlock()

	message := map[string]interface{}{"type": commandType, "ackId": ackID}
	if payload != nil {
		message["payload"] = payload
	}
	if err := c.conn.WriteJSON(message); err != nil {
		c.t.Fatalf("Failed to send %s: %v", commandType, err)
	}
	return ackID
}

// expect waits for the first unconsumed frame matching eventType (and ackID
// when set), marking it consumed
func (c *testClient) expect(eventType, ackID string) frame {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		c.mu.Lock()
		for i, f := range c.frames {
			if c.consumed[i] || f.Type != eventType || (ackID != "" && f.AckID != ackID) {
				continue
			}
			c.consumed[i] = true
			c.mu.Unlock()
			return f
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
			c.t.Fatalf("Connection closed while waiting for %s", eventType)
		case <-deadline:
			c.t.Fatalf("Timed out waiting for %s (ack %q)", eventType, ackID)
		}
	}
}

// request sends a command and waits for its ack
func (c *testClient) request(commandType string, payload interface{}) frame {
	c.t.Helper()
	return c.expect("ack", c.send(commandType, payload))
}

// requestOK sends a command and fails unless the ack is ok
func (c *testClient) requestOK(commandType string, payload interface{}) frame {
	c.t.Helper()
	ack := c.request(commandType, payload)
	var body struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	ack.decode(c.t, &body)
	if !body.OK {
		c.t.Fatalf("%s declined: %s", commandType, body.Message)
	}
	return ack
}

// requestDeclined sends a command and returns the decline message
func (c *testClient) requestDeclined(commandType string, payload interface{}) string {
	c.t.Helper()
	ack := c.request(commandType, payload)
	var body struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	ack.decode(c.t, &body)
	if body.OK {
		c.t.Fatalf("%s should have been declined", commandType)
	}
	return body.Message
}

// joinStudent joins and returns the student id
func (c *testClient) joinStudent(name, resumeID string) string {
	c.t.Helper()
	payload := map[string]string{"name": name}
	if resumeID != "" {
		payload["studentId"] = resumeID
	}
	ack := c.requestOK("student:join", payload)
	var body struct {
		Student struct {
			ID string `json:"id"`
		} `json:"student"`
	}
	ack.decode(c.t, &body)
	if body.Student.ID == "" {
		c.t.Fatal("student:join ack carried no student id")
	}
	return body.Student.ID
}

func getJSON(t *testing.T, addr, path string, into interface{}) int {
	t.Helper()
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("Failed to decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}
