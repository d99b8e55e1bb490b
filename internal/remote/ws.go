// Package remote implements the task transport to the counterpart agent
// over a websocket. The planner only sees the TaskClient interface; frame
// layout and connection state live here.
package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/planner"
)

// frame is the wire shape in both directions. Kind selects which fields
// are meaningful.
type frame struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"` // start | send | cancel | message | status
	TaskID      string             `json:"taskId,omitempty"`
	Text        string             `json:"text,omitempty"`
	Attachments []event.Attachment `json:"attachments,omitempty"`
	Finality    event.Finality     `json:"finality,omitempty"`
	State       event.Status       `json:"state,omitempty"`
}

type WSClient struct {
	logger *slog.Logger
	conn   *websocket.Conn
	cancel context.CancelFunc

	mu       sync.RWMutex
	taskID   string
	status   event.Status
	onUpdate func(planner.TaskUpdate)
}

// Dial connects to the remote endpoint and starts the read pump. The
// returned client keeps reading until Close or a connection error.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial remote %s: %w", url, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &WSClient{logger: logger, conn: conn, cancel: cancel}
	go c.readPump(pumpCtx)
	return c, nil
}

func (c *WSClient) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "done")
}

func (c *WSClient) TaskID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taskID
}

func (c *WSClient) Status() event.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// OnUpdate registers the single consumer callback. Updates received before
// registration are dropped.
func (c *WSClient) OnUpdate(fn func(planner.TaskUpdate)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// StartNew opens a new remote task and delivers the first message.
func (c *WSClient) StartNew(ctx context.Context, msg planner.OutgoingMessage) error {
	taskID := uuid.NewString()
	if err := c.write(ctx, outgoing("start", taskID, msg)); err != nil {
		return err
	}
	c.mu.Lock()
	c.taskID = taskID
	c.status = event.StatusSubmitted
	c.mu.Unlock()
	return nil
}

// Send delivers a message on the already-open task.
func (c *WSClient) Send(ctx context.Context, msg planner.OutgoingMessage) error {
	c.mu.RLock()
	taskID := c.taskID
	c.mu.RUnlock()
	if taskID == "" {
		return fmt.Errorf("send: no task open")
	}
	return c.write(ctx, outgoing("send", taskID, msg))
}

func (c *WSClient) Cancel(ctx context.Context) error {
	c.mu.RLock()
	taskID := c.taskID
	c.mu.RUnlock()
	if taskID == "" {
		return nil
	}
	return c.write(ctx, frame{ID: uuid.NewString(), Kind: "cancel", TaskID: taskID})
}

func outgoing(kind, taskID string, msg planner.OutgoingMessage) frame {
	f := frame{
		ID:       uuid.NewString(),
		Kind:     kind,
		TaskID:   taskID,
		Text:     msg.Text,
		Finality: msg.Finality,
	}
	for _, file := range msg.Attachments {
		f.Attachments = append(f.Attachments, event.Attachment{
			Name:     file.Name,
			MimeType: file.MimeType,
			Content:  base64.StdEncoding.EncodeToString(file.Bytes),
		})
	}
	return f
}

func (c *WSClient) write(ctx context.Context, f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *WSClient) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("remote read failed", "error", err)
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("skipping malformed frame", "error", err)
			continue
		}
		c.handle(f)
	}
}

func (c *WSClient) handle(f frame) {
	c.mu.Lock()
	if f.TaskID != "" {
		c.taskID = f.TaskID
	}
	var update planner.TaskUpdate
	switch f.Kind {
	case "message":
		update = planner.TaskUpdate{Kind: "message", Text: f.Text, Attachments: f.Attachments}
	case "status":
		c.status = f.State
		update = planner.TaskUpdate{Kind: "status", State: f.State}
	default:
		c.mu.Unlock()
		c.logger.Warn("unknown frame kind", "kind", f.Kind)
		return
	}
	fn := c.onUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(update)
	}
}
