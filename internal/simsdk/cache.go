package simsdk

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ferrowell/parley/chatsdk"

	_ "modernc.org/sqlite"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS sim_messages (
  channel_url TEXT NOT NULL,
  message_id  INTEGER NOT NULL,
  request_id  TEXT,
  sender_id   TEXT NOT NULL,
  type        TEXT NOT NULL,
  custom_type TEXT,
  body        TEXT,
  file_name   TEXT,
  file_url    TEXT,
  mentioned   TEXT NOT NULL DEFAULT '[]',
  template    TEXT,
  created_at  INTEGER NOT NULL,
  updated_at  INTEGER,
  PRIMARY KEY (channel_url, message_id)
);

CREATE INDEX IF NOT EXISTS idx_sim_messages_window
  ON sim_messages(channel_url, created_at, message_id);
`

// cacheColumns is the explicit column list for SELECT queries, so scans stay
// stable if migrations add columns via ALTER TABLE.
const cacheColumns = `message_id, request_id, sender_id, type, custom_type, body, file_name, file_url, mentioned, template, created_at, updated_at`

// Cache is a local SQLite mirror of server truth, read before the first
// network round trip so a reload paints instantly.
type Cache struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(cacheSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	log.Debug("message cache opened", zap.String("path", path))
	return &Cache{db: conn, log: log}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Window returns the latest limit messages at or before the boundary
// timestamp, in ascending order.
func (c *Cache) Window(url string, before int64, limit int) ([]chatsdk.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT %s FROM sim_messages
			WHERE channel_url = ? AND created_at <= ?
			ORDER BY created_at DESC, message_id DESC
			LIMIT ?
		) ORDER BY created_at ASC, message_id ASC
	`, cacheColumns, cacheColumns)

	rows, err := c.db.Query(query, url, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCacheMessages(rows, url)
}

// Put upserts confirmed messages. Unconfirmed ones are skipped; the cache
// mirrors server truth only.
func (c *Cache) Put(url string, msgs []chatsdk.Message) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if !m.Confirmed() {
			continue
		}
		mentioned, err := json.Marshal(m.MentionedUserIDs)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT OR REPLACE INTO sim_messages (channel_url, message_id, request_id, sender_id, type, custom_type, body, file_name, file_url, mentioned, template, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, url, m.MessageID, m.RequestID, m.SenderID, string(m.Type), m.CustomType, m.Body, m.FileName, m.FileURL, string(mentioned), m.MentionTemplate, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes cached messages by server id.
func (c *Cache) Delete(url string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM sim_messages WHERE channel_url = ? AND message_id = ?", url, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DropChannel clears every cached row for a channel.
func (c *Cache) DropChannel(url string) error {
	_, err := c.db.Exec("DELETE FROM sim_messages WHERE channel_url = ?", url)
	return err
}

type cacheRow struct {
	MessageID  int64
	RequestID  sql.NullString
	SenderID   string
	MsgType    string
	CustomType sql.NullString
	Body       sql.NullString
	FileName   sql.NullString
	FileURL    sql.NullString
	Mentioned  string
	Template   sql.NullString
	CreatedAt  int64
	UpdatedAt  sql.NullInt64
}

func (row cacheRow) toMessage(url string) (chatsdk.Message, error) {
	mentioned := []string{}
	if row.Mentioned != "" {
		if err := json.Unmarshal([]byte(row.Mentioned), &mentioned); err != nil {
			return chatsdk.Message{}, err
		}
	}
	return chatsdk.Message{
		MessageID:        row.MessageID,
		RequestID:        row.RequestID.String,
		Type:             chatsdk.MessageType(row.MsgType),
		ChannelURL:       url,
		SenderID:         row.SenderID,
		Body:             row.Body.String,
		FileName:         row.FileName.String,
		FileURL:          row.FileURL.String,
		MentionedUserIDs: mentioned,
		MentionTemplate:  row.Template.String,
		CustomType:       row.CustomType.String,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt.Int64,
		Status:           chatsdk.SendStatusSucceeded,
	}, nil
}

func scanCacheMessages(rows *sql.Rows, url string) ([]chatsdk.Message, error) {
	var msgs []chatsdk.Message
	for rows.Next() {
		var row cacheRow
		if err := rows.Scan(&row.MessageID, &row.RequestID, &row.SenderID, &row.MsgType, &row.CustomType, &row.Body, &row.FileName, &row.FileURL, &row.Mentioned, &row.Template, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		m, err := row.toMessage(url)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}
