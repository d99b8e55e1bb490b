package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/eventlog"
	"github.com/flitsinc/go-planner/internal/gate"
	"github.com/flitsinc/go-planner/internal/prompt"
	"github.com/flitsinc/go-planner/internal/scenario"
	"github.com/flitsinc/go-planner/internal/vault"
)

const (
	llmAttempts    = 3
	backoffBase    = 200 * time.Millisecond
	jitterCeiling  = 50 * time.Millisecond
	defaultTimeout = 2 * time.Minute
)

// Planner drives the decide/prompt/LLM/dispatch cycle. One tick is in
// flight at most; everything that can fail inside a tick ends as a logged
// event, never as a returned error.
type Planner struct {
	log      *eventlog.Log
	vault    vault.Vault
	scenario scenario.Config
	agent    scenario.Agent
	llm      LLMProvider
	oracle   Oracle
	task     TaskClient
	logger   *slog.Logger
	handlers map[string]handler

	restrictions []string
	instructions string

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration

	mu         sync.Mutex
	state      State
	generation uint64
	terminal   gate.TerminalState
	stop       context.CancelFunc
	baseCtx    context.Context
}

type Option func(*Planner)

// WithSleep replaces the backoff sleep, for deterministic retry tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Planner) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// WithJitter replaces the backoff jitter source.
func WithJitter(fn func() time.Duration) Option {
	return func(p *Planner) {
		if fn != nil {
			p.jitter = fn
		}
	}
}

// WithToolRestrictions limits the scenario tools offered and dispatched to
// the named subset. An empty list leaves everything enabled.
func WithToolRestrictions(names []string) Option {
	return func(p *Planner) { p.restrictions = names }
}

// WithInstructions adds free-text additional instructions to every prompt.
func WithInstructions(text string) Option {
	return func(p *Planner) { p.instructions = text }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(log *eventlog.Log, v vault.Vault, cfg scenario.Config, agent scenario.Agent, llm LLMProvider, oracle Oracle, task TaskClient, opts ...Option) *Planner {
	p := &Planner{
		log:      log,
		vault:    v,
		scenario: cfg,
		agent:    agent,
		llm:      llm,
		oracle:   oracle,
		task:     task,
		logger:   slog.Default(),
		state:    StateIdle,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(jitterCeiling)))
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.handlers = p.coreHandlers()
	return p
}

// Start moves the loop to waiting, subscribes to remote task updates and
// attempts an immediate tick. Calling Start on a running planner is a
// no-op.
func (p *Planner) Start(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.baseCtx = runCtx
	p.stop = cancel
	p.state, _ = Next(p.state, InputStart)
	p.mu.Unlock()

	p.task.OnUpdate(p.handleTaskUpdate)
	p.RequestTick()
}

// Stop resets the loop to idle. An LLM call already in flight is not
// cancelled here by the transport; bumping the generation makes its
// eventual completion a stale no-op instead.
func (p *Planner) Stop() {
	p.mu.Lock()
	p.generation++
	p.state, _ = Next(p.state, InputStop)
	cancel := p.stop
	p.stop = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the loop state for inspection.
func (p *Planner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Terminal returns the current pending-terminal snapshot.
func (p *Planner) Terminal() gate.TerminalState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// RecordUserReply appends the user's message and wakes the loop.
func (p *Planner) RecordUserReply(text string) (event.Event, error) {
	evt, err := p.log.Emit(event.Draft{
		Type:    event.TypeMessage,
		Channel: event.ChannelUserPlanner,
		Author:  event.AuthorUser,
		Payload: event.Payload{Text: text},
	})
	if err != nil {
		return event.Event{}, err
	}
	p.RequestTick()
	return evt, nil
}

// handleTaskUpdate converts a transport push into log events and wakes the
// loop.
func (p *Planner) handleTaskUpdate(u TaskUpdate) {
	var err error
	switch u.Kind {
	case "message":
		_, err = p.log.Emit(event.Draft{
			Type:    event.TypeMessage,
			Channel: event.ChannelPlannerAgent,
			Author:  event.AuthorAgent,
			Payload: event.Payload{Text: u.Text, Attachments: u.Attachments},
		})
	case "status":
		_, err = p.log.Emit(event.Draft{
			Type:    event.TypeStatus,
			Channel: event.ChannelStatus,
			Author:  event.AuthorSystem,
			Payload: event.Payload{State: u.State},
		})
	default:
		p.logger.Warn("unknown task update kind", "kind", u.Kind)
		return
	}
	if err != nil {
		p.logger.Error("record task update", "kind", u.Kind, "error", err)
		return
	}
	p.RequestTick()
}

// RequestTick wakes the loop. Requests while a tick is running coalesce
// into a single follow-up tick.
func (p *Planner) RequestTick() {
	p.mu.Lock()
	next, begin := Next(p.state, InputTickRequest)
	p.state = next
	var gen uint64
	var ctx context.Context
	if begin {
		p.generation++
		gen = p.generation
		ctx = p.baseCtx
	}
	p.mu.Unlock()

	if begin {
		go p.runTick(ctx, gen)
	}
}

// runTick executes one tick and then drains the coalesced pending flag.
// A completion whose generation no longer matches was raced by Stop and is
// discarded without touching state.
func (p *Planner) runTick(ctx context.Context, gen uint64) {
	for {
		if ctx == nil {
			ctx = context.Background()
		}
		tickCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		retick := p.tickOnce(tickCtx)
		cancel()

		p.mu.Lock()
		if gen != p.generation {
			p.mu.Unlock()
			return
		}
		next, again := Next(p.state, InputTickDone)
		p.state = next
		if !again && retick {
			next, again = Next(p.state, InputTickRequest)
			p.state = next
		}
		if again {
			p.generation++
			gen = p.generation
		}
		p.mu.Unlock()

		if !again {
			return
		}
	}
}

// tickOnce runs one full decide/prompt/LLM/dispatch cycle. It never
// returns an error: every failure is converted into a trace event so the
// loop stays live. The returned bool requests an immediate follow-up tick.
func (p *Planner) tickOnce(ctx context.Context) bool {
	if !p.canActNow() {
		return false
	}

	promptText := prompt.Build(p.promptInputs())

	reply, err := p.completeWithRetry(ctx, promptText)
	if err != nil {
		p.trace(fmt.Sprintf("llm call failed after %d attempts: %v", llmAttempts, err))
		return false
	}

	act, err := ParseAction(reply)
	if err != nil {
		p.logger.Warn("unparseable model reply, sleeping", "error", err)
		act = SleepAction()
	}

	p.logger.Info("dispatching action", "tool", act.Tool)
	retick, err := p.dispatch(ctx, act)
	if err != nil {
		p.trace(fmt.Sprintf("dispatch %s failed: %v", act.Tool, err))
		return false
	}
	return retick
}

// canActNow decides whether a tick should do anything: bootstrap on an
// empty log, answer an unanswered user message, follow up on our own tool
// activity, or respond when the remote side asked for input.
func (p *Planner) canActNow() bool {
	p.mu.Lock()
	finished := p.state == StateFinished || p.state == StateIdle
	p.mu.Unlock()
	if finished {
		return false
	}

	events := p.log.Events()
	if len(events) == 0 {
		return true
	}

	if unansweredUserMessage(events) {
		return true
	}

	last := events[len(events)-1]
	if last.Author == event.AuthorPlanner {
		switch last.Type {
		case event.TypeToolCall, event.TypeToolResult, event.TypeReadAttachment:
			return true
		}
	}

	return gate.LatestStatus(events) == event.StatusInputRequired
}

// unansweredUserMessage reports whether the newest user-planner exchange
// ends with the user speaking.
func unansweredUserMessage(events []event.Event) bool {
	for i := len(events) - 1; i >= 0; i-- {
		evt := events[i]
		if evt.Type != event.TypeMessage || evt.Channel != event.ChannelUserPlanner {
			continue
		}
		return evt.Author == event.AuthorUser
	}
	return false
}

func (p *Planner) promptInputs() prompt.Inputs {
	p.mu.Lock()
	term := p.terminal
	p.mu.Unlock()
	return prompt.Inputs{
		Events:                 p.log.Events(),
		Scenario:               p.scenario,
		Agent:                  p.agent,
		Documents:              p.log.Documents(),
		Files:                  p.vault.ListForPlanner(),
		Terminal:               term,
		ToolRestrictions:       p.restrictions,
		AdditionalInstructions: p.instructions,
	}
}

// completeWithRetry calls the LLM with exponential backoff. The sleep and
// jitter sources are injected so tests run without real timers.
func (p *Planner) completeWithRetry(ctx context.Context, promptText string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= llmAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffBase*time.Duration(1<<(attempt-2)) + p.jitter()
			if err := p.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		reply, err := p.llm.Complete(ctx, promptText)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		p.logger.Warn("llm attempt failed", "attempt", attempt, "error", err)
	}
	return "", lastErr
}

// trace records an internal failure in the log. Emitting a trace must not
// itself take the loop down, so emission errors only hit the logger.
func (p *Planner) trace(text string) {
	if _, err := p.log.Emit(event.Draft{
		Type:    event.TypeTrace,
		Channel: event.ChannelSystem,
		Author:  event.AuthorSystem,
		Payload: event.Payload{Text: text},
	}); err != nil {
		p.logger.Error("emit trace", "error", err)
	}
}
