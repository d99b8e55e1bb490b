package planner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/eventlog"
	"github.com/flitsinc/go-planner/internal/gate"
	"github.com/flitsinc/go-planner/internal/scenario"
	"github.com/flitsinc/go-planner/internal/vault"
)

type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return `{"action":{"tool":"sleep"}}`, nil
}

type fakeTask struct {
	mu      sync.Mutex
	taskID  string
	status  event.Status
	sent    []OutgoingMessage
	started []OutgoingMessage
	update  func(TaskUpdate)
}

func (f *fakeTask) TaskID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taskID
}

func (f *fakeTask) Status() event.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTask) OnUpdate(fn func(TaskUpdate)) {
	f.mu.Lock()
	f.update = fn
	f.mu.Unlock()
}

func (f *fakeTask) Send(ctx context.Context, msg OutgoingMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTask) StartNew(ctx context.Context, msg OutgoingMessage) error {
	f.mu.Lock()
	f.started = append(f.started, msg)
	f.taskID = "task-1"
	f.mu.Unlock()
	return nil
}

func (f *fakeTask) Cancel(ctx context.Context) error { return nil }

type fakeOracle struct {
	output any
	err    error
	calls  int
}

func (f *fakeOracle) Execute(ctx context.Context, req OracleRequest) (any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func testScenario() (scenario.Config, scenario.Agent) {
	agent := scenario.Agent{
		AgentID:   "travel-planner",
		Principal: "Ada",
		Goals:     []string{"book the trip"},
		Tools: []scenario.Tool{
			{ToolName: "searchFlights", Description: "Search flights."},
			{
				ToolName:              "bookTrip",
				Description:           "Book and finish.",
				EndsConversation:      true,
				ConversationEndStatus: "success",
			},
		},
		MessageToUseWhenInitiatingConversation: "Hello, I need to book a trip.",
	}
	cfg := scenario.Config{
		Metadata: scenario.Metadata{Title: "Travel booking"},
		Agents:   []scenario.Agent{agent},
	}
	return cfg, agent
}

type fixture struct {
	planner *Planner
	log     *eventlog.Log
	vault   *vault.Memory
	llm     *fakeLLM
	task    *fakeTask
	oracle  *fakeOracle
}

func newFixture(t *testing.T, llm *fakeLLM) *fixture {
	t.Helper()
	cfg, agent := testScenario()
	v := vault.NewMemory()
	log := eventlog.New(v)
	task := &fakeTask{}
	oracle := &fakeOracle{output: map[string]any{"ok": true}}
	p := New(log, v, cfg, agent, llm, oracle, task,
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithJitter(func() time.Duration { return 0 }),
	)
	p.state = StateWaiting
	return &fixture{planner: p, log: log, vault: v, llm: llm, task: task, oracle: oracle}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSleepTickEmitsNothing(t *testing.T) {
	f := newFixture(t, &fakeLLM{replies: []string{`{"action":{"tool":"sleep"}}`}})

	f.planner.RequestTick()
	waitFor(t, "loop back to waiting", func() bool { return f.planner.State() == StateWaiting })

	if f.log.Len() != 0 {
		t.Fatalf("sleep tick emitted %d events, want 0", f.log.Len())
	}
}

func TestUserReplyThenPlannerAnswer(t *testing.T) {
	f := newFixture(t, &fakeLLM{replies: []string{
		`{"reasoning":"greet back","action":{"tool":"sendMessageToMyPrincipal","args":{"text":"Hi there"}}}`,
	}})

	evt, err := f.planner.RecordUserReply("Hello")
	if err != nil {
		t.Fatalf("RecordUserReply: %v", err)
	}
	if evt.Seq != 1 {
		t.Fatalf("user reply seq = %d, want 1", evt.Seq)
	}

	waitFor(t, "planner answer", func() bool { return f.log.Len() >= 2 })
	waitFor(t, "loop back to waiting", func() bool { return f.planner.State() == StateWaiting })

	events := f.log.Events()
	answer := events[1]
	if answer.Seq != 2 || answer.Author != event.AuthorPlanner || answer.Channel != event.ChannelUserPlanner {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.Payload.Text != "Hi there" {
		t.Errorf("answer text = %q", answer.Payload.Text)
	}
	if answer.Reasoning != "greet back" {
		t.Errorf("answer reasoning = %q", answer.Reasoning)
	}
}

func TestCanActNow(t *testing.T) {
	f := newFixture(t, &fakeLLM{})

	if !f.planner.canActNow() {
		t.Error("empty log should allow bootstrap tick")
	}

	if _, err := f.planner.log.Emit(event.Draft{
		Type: event.TypeMessage, Channel: event.ChannelUserPlanner, Author: event.AuthorUser,
		Payload: event.Payload{Text: "are you there?"},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !f.planner.canActNow() {
		t.Error("unanswered user message should allow acting")
	}

	if _, err := f.planner.log.Emit(event.Draft{
		Type: event.TypeMessage, Channel: event.ChannelUserPlanner, Author: event.AuthorPlanner,
		Payload: event.Payload{Text: "yes"},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if f.planner.canActNow() {
		t.Error("answered conversation with nothing pending should wait")
	}

	if _, err := f.planner.log.Emit(event.Draft{
		Type: event.TypeToolCall, Channel: event.ChannelTool, Author: event.AuthorPlanner,
		Payload: event.Payload{Name: "searchFlights"},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !f.planner.canActNow() {
		t.Error("own tool activity should allow an immediate follow-up")
	}

	if _, err := f.planner.log.Emit(event.Draft{
		Type: event.TypeStatus, Channel: event.ChannelStatus, Author: event.AuthorSystem,
		Payload: event.Payload{State: event.StatusInputRequired},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !f.planner.canActNow() {
		t.Error("input-required status should allow acting")
	}

	f.planner.mu.Lock()
	f.planner.state = StateFinished
	f.planner.mu.Unlock()
	if f.planner.canActNow() {
		t.Error("finished loop must never act")
	}
}

func TestDoneFinishesLoop(t *testing.T) {
	f := newFixture(t, &fakeLLM{replies: []string{
		`{"action":{"tool":"done","args":{"summary":"nothing left"}}}`,
	}})

	f.planner.RequestTick()
	waitFor(t, "finished state", func() bool { return f.planner.State() == StateFinished })

	events := f.log.Events()
	if len(events) != 1 || events[0].Type != event.TypeTrace {
		t.Fatalf("events = %+v, want one trace", events)
	}
}

func TestTerminalForcesConversationFinality(t *testing.T) {
	f := newFixture(t, &fakeLLM{})
	f.vault.AddSynthetic("report.pdf", "application/pdf", "contents")
	f.planner.mu.Lock()
	f.planner.terminal = gate.TerminalState{Pending: true, Status: "success", Attachments: []string{"report.pdf"}}
	f.planner.mu.Unlock()

	_, err := f.planner.dispatch(context.Background(), Action{
		Tool: "sendMessageToRemoteAgent",
		Args: map[string]any{"text": "All booked, closing out.", "finality": "turn"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	events := f.log.Events()
	if len(events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(events))
	}
	msg := events[0]
	if msg.Payload.Finality != event.FinalityConversation {
		t.Errorf("finality = %q, want conversation", msg.Payload.Finality)
	}
	if len(msg.Payload.Attachments) != 1 || msg.Payload.Attachments[0].Name != "report.pdf" {
		t.Errorf("attachments = %+v, want report.pdf", msg.Payload.Attachments)
	}
	if len(f.task.started) != 1 {
		t.Fatalf("started %d remote tasks, want 1", len(f.task.started))
	}
	if f.planner.Terminal().Pending {
		t.Error("terminal obligation not cleared after conversation-finality send")
	}
}

func TestUnresolvedAttachmentAbortsSend(t *testing.T) {
	f := newFixture(t, &fakeLLM{})

	_, err := f.planner.dispatch(context.Background(), Action{
		Tool: "sendMessageToRemoteAgent",
		Args: map[string]any{
			"text":        "see attached",
			"attachments": []any{map[string]any{"name": "missing.txt"}},
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	events := f.log.Events()
	if len(events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(events))
	}
	result := events[0]
	if result.Type != event.TypeToolResult || result.Payload.OK == nil || *result.Payload.OK {
		t.Fatalf("expected tool_result{ok:false}, got %+v", result)
	}
	if len(f.task.sent)+len(f.task.started) != 0 {
		t.Fatal("a send reached the task client despite the unresolved attachment")
	}
}

func TestRemoteSendBlockedByTerminalStatus(t *testing.T) {
	f := newFixture(t, &fakeLLM{})
	if _, err := f.log.Emit(event.Draft{
		Type: event.TypeStatus, Channel: event.ChannelStatus, Author: event.AuthorSystem,
		Payload: event.Payload{State: event.StatusCompleted},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	_, err := f.planner.dispatch(context.Background(), Action{
		Tool: "sendMessageToRemoteAgent",
		Args: map[string]any{"text": "one more thing"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.task.sent)+len(f.task.started) != 0 {
		t.Fatal("send reached the task client after a completed status")
	}
	last := f.log.Events()[f.log.Len()-1]
	if last.Type != event.TypeToolResult || *last.Payload.OK {
		t.Fatalf("expected tool_result{ok:false}, got %+v", last)
	}
}

func TestScenarioToolArmsTerminal(t *testing.T) {
	f := newFixture(t, &fakeLLM{})
	f.oracle.output = map[string]any{
		"confirmation": map[string]any{"name": "booking-confirmation.md", "content": "Confirmed."},
		"note":         "hand the confirmation over",
	}

	retick, err := f.planner.dispatch(context.Background(), Action{
		Tool: "bookTrip",
		Args: map[string]any{"destination": "Oslo"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !retick {
		t.Error("scenario tool should request a follow-up tick")
	}

	events := f.log.Events()
	if len(events) != 2 || events[0].Type != event.TypeToolCall || events[1].Type != event.TypeToolResult {
		t.Fatalf("events = %+v, want tool_call then tool_result", events)
	}

	term := f.planner.Terminal()
	if !term.Pending || term.Status != "success" {
		t.Fatalf("terminal = %+v", term)
	}
	if len(term.Attachments) != 1 || term.Attachments[0] != "booking-confirmation.md" {
		t.Errorf("terminal attachments = %v", term.Attachments)
	}
	if term.Note != "hand the confirmation over" {
		t.Errorf("terminal note = %q", term.Note)
	}
	if _, ok := f.vault.GetByName("booking-confirmation.md"); !ok {
		t.Error("tool document not mirrored into the vault")
	}
}

func TestOracleFailureBecomesToolResult(t *testing.T) {
	f := newFixture(t, &fakeLLM{})
	f.oracle.err = fmt.Errorf("oracle offline")

	retick, err := f.planner.dispatch(context.Background(), Action{Tool: "searchFlights", Args: map[string]any{}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !retick {
		t.Error("failed tool should still request a follow-up tick")
	}
	events := f.log.Events()
	last := events[len(events)-1]
	if last.Type != event.TypeToolResult || *last.Payload.OK {
		t.Fatalf("expected tool_result{ok:false}, got %+v", last)
	}
}

func TestReadAttachment(t *testing.T) {
	f := newFixture(t, &fakeLLM{})
	f.vault.AddSynthetic("notes.md", "text/markdown", "remember the visa")
	f.vault.AddPrivate("secret.txt", "text/plain", []byte("hush"), "")

	retick, err := f.planner.dispatch(context.Background(), Action{
		Tool: "readAttachment", Args: map[string]any{"name": "notes.md"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !retick {
		t.Error("readAttachment should request a follow-up tick")
	}
	evt := f.log.Events()[0]
	if evt.Type != event.TypeReadAttachment || !*evt.Payload.OK {
		t.Fatalf("event = %+v", evt)
	}
	if evt.Payload.Size != len("remember the visa") || evt.Payload.Excerpt != "remember the visa" {
		t.Errorf("payload = %+v", evt.Payload)
	}

	if _, err := f.planner.dispatch(context.Background(), Action{
		Tool: "readAttachment", Args: map[string]any{"name": "secret.txt"},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	private := f.log.Events()[1]
	if *private.Payload.OK {
		t.Error("private attachment was readable")
	}
}

func TestUnrecognizedToolIsNoOp(t *testing.T) {
	f := newFixture(t, &fakeLLM{})
	retick, err := f.planner.dispatch(context.Background(), Action{Tool: "launchRocket"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if retick || f.log.Len() != 0 {
		t.Fatalf("unrecognized tool produced retick=%v, %d events", retick, f.log.Len())
	}
}

func TestCompleteWithRetryBackoff(t *testing.T) {
	var delays []time.Duration
	llm := &fakeLLM{
		errs:    []error{fmt.Errorf("boom"), fmt.Errorf("boom again")},
		replies: []string{"", "", `{"action":{"tool":"sleep"}}`},
	}
	f := newFixture(t, llm)
	f.planner.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	reply, err := f.planner.completeWithRetry(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("completeWithRetry: %v", err)
	}
	if reply == "" {
		t.Fatal("empty reply after successful retry")
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestLLMFailureSurfacesAsTrace(t *testing.T) {
	llm := &fakeLLM{errs: []error{
		fmt.Errorf("down"), fmt.Errorf("down"), fmt.Errorf("down"),
	}}
	f := newFixture(t, llm)

	f.planner.RequestTick()
	waitFor(t, "trace event", func() bool { return f.log.Len() == 1 })
	waitFor(t, "loop back to waiting", func() bool { return f.planner.State() == StateWaiting })

	evt := f.log.Events()[0]
	if evt.Type != event.TypeTrace || evt.Channel != event.ChannelSystem {
		t.Fatalf("event = %+v, want a system trace", evt)
	}
	if llm.calls != llmAttempts {
		t.Errorf("llm calls = %d, want %d", llm.calls, llmAttempts)
	}
}

func TestTaskUpdatesFeedTheLog(t *testing.T) {
	f := newFixture(t, &fakeLLM{})
	f.planner.state = StateIdle
	f.planner.Start(context.Background())
	defer f.planner.Stop()

	f.task.update(TaskUpdate{Kind: "message", Text: "offer received"})
	f.task.update(TaskUpdate{Kind: "status", State: event.StatusInputRequired})

	waitFor(t, "two recorded events", func() bool { return f.log.Len() >= 2 })
	events := f.log.Events()
	if events[0].Channel != event.ChannelPlannerAgent || events[0].Author != event.AuthorAgent {
		t.Errorf("message event = %+v", events[0])
	}
	if events[1].Type != event.TypeStatus || events[1].Payload.State != event.StatusInputRequired {
		t.Errorf("status event = %+v", events[1])
	}
}
