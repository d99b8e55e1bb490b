package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/eventlog"
	"github.com/flitsinc/go-planner/internal/planner"
	"github.com/flitsinc/go-planner/internal/scenario"
	"github.com/flitsinc/go-planner/internal/testutil"
	"github.com/flitsinc/go-planner/internal/vault"
)

type apiFakeLLM struct{}

func (apiFakeLLM) Complete(context.Context, string) (string, error) {
	return `{"action":{"tool":"sleep"}}`, nil
}

type apiFakeOracle struct{}

func (apiFakeOracle) Execute(context.Context, planner.OracleRequest) (any, error) {
	return map[string]any{"ok": true}, nil
}

type apiFakeTask struct{}

func (apiFakeTask) TaskID() string                                          { return "" }
func (apiFakeTask) Status() event.Status                                    { return "" }
func (apiFakeTask) OnUpdate(func(planner.TaskUpdate))                       {}
func (apiFakeTask) Send(context.Context, planner.OutgoingMessage) error     { return nil }
func (apiFakeTask) StartNew(context.Context, planner.OutgoingMessage) error { return nil }
func (apiFakeTask) Cancel(context.Context) error                            { return nil }

func newTestServer(t *testing.T) (*Server, *eventlog.Log) {
	t.Helper()
	v := vault.NewMemory()
	log := eventlog.New(v)
	cfg := scenario.Config{Agents: []scenario.Agent{{AgentID: "a"}}}
	loop := planner.New(log, v, cfg, cfg.Agents[0], apiFakeLLM{}, apiFakeOracle{}, apiFakeTask{})
	return &Server{Log: log, Planner: loop, Vault: v, StartedAt: time.Now().UTC()}, log
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	resp, err := client.Get("http://in-process/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestReplyAppendsUserMessage(t *testing.T) {
	server, log := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	body, _ := json.Marshal(map[string]string{"text": "Hello"})
	resp, err := client.Post("http://in-process/api/reply", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var evt event.Event
	if err := json.NewDecoder(resp.Body).Decode(&evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Seq != 1 || evt.Author != event.AuthorUser || evt.Payload.Text != "Hello" {
		t.Fatalf("event = %+v", evt)
	}
	if log.Len() != 1 {
		t.Fatalf("log length = %d, want 1", log.Len())
	}
}

func TestReplyRejectsEmptyText(t *testing.T) {
	server, _ := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	resp, err := client.Post("http://in-process/api/reply", "application/json", bytes.NewReader([]byte(`{"text":""}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEventsSinceFilter(t *testing.T) {
	server, log := newTestServer(t)
	for _, text := range []string{"one", "two", "three"} {
		if _, err := log.Emit(event.Draft{
			Type: event.TypeMessage, Channel: event.ChannelUserPlanner, Author: event.AuthorUser,
			Payload: event.Payload{Text: text},
		}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	client := testutil.NewInProcessClient(server.Handler())

	resp, err := client.Get("http://in-process/api/events?since=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var events []event.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 2 {
		t.Fatalf("events = %+v, want seqs 2 and 3", events)
	}
}

func TestStateSnapshot(t *testing.T) {
	server, log := newTestServer(t)
	if _, err := log.Emit(event.Draft{
		Type: event.TypeStatus, Channel: event.ChannelStatus, Author: event.AuthorSystem,
		Payload: event.Payload{State: event.StatusWorking},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	client := testutil.NewInProcessClient(server.Handler())

	resp, err := client.Get("http://in-process/api/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var snapshot map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot["status"] != "working" {
		t.Errorf("status = %v, want working", snapshot["status"])
	}
	if snapshot["loop"] != "idle" {
		t.Errorf("loop = %v, want idle", snapshot["loop"])
	}
	if snapshot["lastSeq"] != float64(1) {
		t.Errorf("lastSeq = %v, want 1", snapshot["lastSeq"])
	}
}

func TestUploadAttachment(t *testing.T) {
	server, _ := newTestServer(t)
	var persisted []vault.File
	server.Persist = func(_ context.Context, f vault.File) error {
		persisted = append(persisted, f)
		return nil
	}
	client := testutil.NewInProcessClient(server.Handler())

	body, _ := json.Marshal(map[string]any{
		"name":     "brief.pdf",
		"mimeType": "application/pdf",
		"content":  base64.StdEncoding.EncodeToString([]byte("pdf-bytes")),
		"private":  true,
		"summary":  "client brief",
	})
	resp, err := client.Post("http://in-process/api/attachments", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	f, ok := server.Vault.GetByName("brief.pdf")
	if !ok {
		t.Fatal("uploaded file missing from vault")
	}
	if string(f.Bytes) != "pdf-bytes" || !f.Private || f.Source != "user" {
		t.Fatalf("file = %+v", f)
	}
	if len(persisted) != 1 || persisted[0].Name != "brief.pdf" {
		t.Fatalf("persisted = %+v", persisted)
	}
}

func TestUploadAttachmentRejectsBadInput(t *testing.T) {
	server, _ := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	for name, body := range map[string]string{
		"missing name": `{"content":"aGk="}`,
		"bad base64":   `{"name":"x.txt","content":"%%%"}`,
	} {
		resp, err := client.Post("http://in-process/api/attachments", "application/json", bytes.NewReader([]byte(body)))
		if err != nil {
			t.Fatalf("%s: post: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

type fakeWSWriter struct {
	messages [][]byte
}

func (f *fakeWSWriter) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.messages = append(f.messages, data)
	return nil
}

func TestStreamEventsWriter(t *testing.T) {
	_, log := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &fakeWSWriter{}
	sub := log.Subscribe(ctx)
	go func() {
		_ = streamEvents(ctx, sub, writer)
	}()

	if _, err := log.Emit(event.Draft{
		Type: event.TypeMessage, Channel: event.ChannelUserPlanner, Author: event.AuthorUser,
		Payload: event.Payload{Text: "boom"},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(writer.messages) > 0 {
			var evt event.Event
			if err := json.Unmarshal(writer.messages[0], &evt); err != nil {
				t.Fatalf("decode ws payload: %v", err)
			}
			if evt.Payload.Text != "boom" {
				t.Fatalf("unexpected event text %q", evt.Payload.Text)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for ws message")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
