package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flitsinc/go-planner/internal/event"
	"github.com/flitsinc/go-planner/internal/eventlog"
	"github.com/flitsinc/go-planner/internal/vault"
)

// Journal writes every emitted event through to SQLite and loads the full
// history back on startup. Events are stored as their JSON encoding keyed
// by seq, so the on-disk journal is the same array the log round-trips.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewJournal(db *sql.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}
}

// Append stores one event. It is registered as an emit sink, so failures
// must not take the loop down; they are logged and the in-memory log stays
// authoritative for the session.
func (j *Journal) Append(evt event.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		j.logger.Error("encode event for journal", "seq", evt.Seq, "error", err)
		return
	}
	_, err = j.db.Exec(`INSERT INTO events (seq, data, created_at) VALUES (?, ?, ?)`,
		evt.Seq, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		j.logger.Error("journal event", "seq", evt.Seq, "error", err)
	}
}

// LoadAll returns every journaled event in seq order as raw JSON, ready
// for the log's filtering replay.
func (j *Journal) LoadAll(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT data FROM events ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Restore replays the journal into the log. It returns the number of
// events retained after filtering.
func (j *Journal) Restore(ctx context.Context, log *eventlog.Log) (int, error) {
	raw, err := j.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	return log.LoadRaw(raw)
}

// SaveAttachment persists one vault file. Upserts are idempotent by name,
// matching the vault contract.
func (j *Journal) SaveAttachment(ctx context.Context, f vault.File) error {
	private := 0
	if f.Private {
		private = 1
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO attachments (name, mime_type, content, private, summary, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		  mime_type = excluded.mime_type,
		  content = excluded.content,
		  private = excluded.private,
		  summary = excluded.summary,
		  source = excluded.source`,
		f.Name, f.MimeType, f.Bytes, private, f.Summary, f.Source,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save attachment %q: %w", f.Name, err)
	}
	return nil
}

// LoadAttachments restores user-provided files into the vault. Synthetic
// and agent files are rebuilt from the event replay instead, so loading
// them here would be redundant.
func (j *Journal) LoadAttachments(ctx context.Context, mem *vault.Memory) (int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT name, mime_type, content, private, summary FROM attachments WHERE source = 'user'`)
	if err != nil {
		return 0, fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var name, mimeType string
		var content []byte
		var private int
		var summary sql.NullString
		if err := rows.Scan(&name, &mimeType, &content, &private, &summary); err != nil {
			return n, fmt.Errorf("scan attachment: %w", err)
		}
		mem.Put(vault.File{
			Name:     name,
			MimeType: mimeType,
			Bytes:    content,
			Private:  private == 1,
			Summary:  summary.String,
			Source:   "user",
		})
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate attachments: %w", err)
	}
	return n, nil
}
