// Package eventlog keeps the append-only, strictly validated sequence of
// conversation events. The log is the sole source of truth: the document
// index and the attachment vault contents it feeds are caches that replay
// reconstructs deterministically.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/vault"
)

type Log struct {
	mu      sync.RWMutex
	events  []event.Event
	lastSeq int64
	docs    map[string]Document
	vault   vault.Vault
	nowFn   func() time.Time

	sinkMu sync.RWMutex
	sinks  []func(event.Event)
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch chan event.Event
}

type Option func(*Log)

// WithClock injects the timestamp source, for deterministic tests.
func WithClock(nowFn func() time.Time) Option {
	return func(l *Log) {
		if nowFn != nil {
			l.nowFn = nowFn
		}
	}
}

// New creates an empty log. The vault may be nil; document mirroring and
// agent attachment upserts are skipped in that case.
func New(v vault.Vault, opts ...Option) *Log {
	l := &Log{
		docs:  map[string]Document{},
		vault: v,
		nowFn: func() time.Time { return time.Now().UTC() },
		subs:  map[int]*subscriber{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Emit validates the draft, appends it with the next sequence number,
// applies derived-state updates (document index, vault upserts) and
// notifies subscribers. Validation failures abort the append.
func (l *Log) Emit(d event.Draft) (event.Event, error) {
	l.mu.Lock()
	evt, err := event.Make(l.lastSeq+1, l.nowFn(), d)
	if err != nil {
		l.mu.Unlock()
		return event.Event{}, err
	}
	l.lastSeq = evt.Seq
	l.events = append(l.events, evt)
	l.apply(evt)
	l.mu.Unlock()

	l.notify(evt)
	return evt, nil
}

// LoadJSON restores the log from a persisted JSON array, tolerating
// unrelated or legacy entries by filtering them out. It returns the number
// of events retained.
func (l *Log) LoadJSON(data []byte) (int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("decode event array: %w", err)
	}
	return l.LoadRaw(raw)
}

// LoadRaw filters the given entries down to well-formed unified events,
// sets the sequence counter to the maximum seq seen, and replays every
// retained event through the derived-state step. Replay performs no
// network or LLM calls and yields the same document index and vault state
// as live emission of the same events.
func (l *Log) LoadRaw(raw []json.RawMessage) (int, error) {
	events := make([]event.Event, 0, len(raw))
	for _, item := range raw {
		var evt event.Event
		if err := json.Unmarshal(item, &evt); err != nil {
			continue
		}
		if err := event.Assert(evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	l.replace(events)
	return len(events), nil
}

// LoadEvents is LoadRaw for already-decoded events.
func (l *Log) LoadEvents(events []event.Event) int {
	kept := make([]event.Event, 0, len(events))
	for _, evt := range events {
		if err := event.Assert(evt); err != nil {
			continue
		}
		kept = append(kept, evt)
	}
	l.replace(kept)
	return len(kept)
}

func (l *Log) replace(events []event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = events
	l.docs = map[string]Document{}
	l.lastSeq = 0
	for _, evt := range events {
		if evt.Seq > l.lastSeq {
			l.lastSeq = evt.Seq
		}
		l.apply(evt)
	}
}

// apply updates derived state for one event. It runs identically on live
// emission and on replay; callers hold l.mu.
func (l *Log) apply(evt event.Event) {
	switch evt.Type {
	case event.TypeToolResult:
		at, err := time.Parse(time.RFC3339Nano, evt.Timestamp)
		if err != nil {
			at = time.Unix(0, 0).UTC()
		}
		for _, doc := range IndexResult(evt.Payload.Name, at, evt.Payload.Result) {
			l.docs[doc.Name] = doc
			if l.vault != nil {
				l.vault.AddSynthetic(doc.Name, doc.ContentType, doc.Content)
			}
		}
	case event.TypeMessage:
		if evt.Channel != event.ChannelPlannerAgent || evt.Author != event.AuthorAgent || l.vault == nil {
			return
		}
		for _, att := range evt.Payload.Attachments {
			if att.Content == "" {
				continue
			}
			_ = l.vault.AddFromAgent(att.Name, att.MimeType, att.Content)
		}
	}
}

// Events returns a copy of the log in append order.
func (l *Log) Events() []event.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]event.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *Log) LastSeq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

// Documents returns the current document index sorted by name.
func (l *Log) Documents() []Document {
	l.mu.RLock()
	out := make([]Document, 0, len(l.docs))
	for _, doc := range l.docs {
		out = append(out, doc)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OnEmit registers a synchronous sink called for every emitted event
// (not for replayed ones). Used by the persistence journal and the tick
// trigger.
func (l *Log) OnEmit(fn func(event.Event)) {
	if fn == nil {
		return
	}
	l.sinkMu.Lock()
	l.sinks = append(l.sinks, fn)
	l.sinkMu.Unlock()
}

// Subscribe returns a channel receiving newly emitted events until the
// context is done. Slow subscribers drop events rather than block the log.
func (l *Log) Subscribe(ctx context.Context) <-chan event.Event {
	sub := &subscriber{ch: make(chan event.Event, 64)}
	l.sinkMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = sub
	l.sinkMu.Unlock()

	go func() {
		<-ctx.Done()
		l.sinkMu.Lock()
		delete(l.subs, id)
		l.sinkMu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

func (l *Log) notify(evt event.Event) {
	l.sinkMu.RLock()
	sinks := append([]func(event.Event){}, l.sinks...)
	for _, sub := range l.subs {
		select {
		case sub.ch <- evt:
		default:
			// Drop if subscriber is slow.
		}
	}
	l.sinkMu.RUnlock()
	for _, fn := range sinks {
		fn(evt)
	}
}
