package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bedtime-sketch/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

const storyTableStmt = `
CREATE TABLE IF NOT EXISTS stories (
	id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	theme TEXT NOT NULL,
	audio BLOB,
	size INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, id)
);`

// NewStore opens (or creates) the SQLite database and its stories table.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, core.WrapError(core.KindInternal, err, "failed to open sqlite database")
	}
	if _, err = db.Exec(storyTableStmt); err != nil {
		db.Close()
		return nil, core.WrapError(core.KindInternal, err, "failed to create stories table")
	}
	return &sqliteStore{db}, nil
}

// Close releases the database handle.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) List(ctx context.Context, sessionID string) ([]*core.Story, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, theme, size, created_at FROM stories WHERE session_id = ? ORDER BY created_at", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stories := []*core.Story{}
	for rows.Next() {
		story := core.Story{SessionID: sessionID}
		var theme string
		if err := rows.Scan(&story.ID, &theme, &story.Size, &story.CreatedAt); err != nil {
			return nil, err
		}
		story.Theme = core.Theme(theme)
		stories = append(stories, &story)
	}
	return stories, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, sessionID, id string) (*core.Story, error) {
	story := core.Story{SessionID: sessionID, ID: id}
	var theme string
	err := s.db.QueryRowContext(ctx,
		"SELECT theme, audio, size, created_at FROM stories WHERE session_id = ? AND id = ?", sessionID, id).
		Scan(&theme, &story.Audio, &story.Size, &story.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logrus.WithFields(logrus.Fields{"session_id": sessionID, "story_id": id}).Warn("Story not found")
			return nil, core.NewError(core.KindNotFound, "story %s not found", id)
		}
		return nil, err
	}
	story.Theme = core.Theme(theme)
	return &story, nil
}

func (s *sqliteStore) Save(ctx context.Context, story *core.Story) error {
	if story.SessionID == "" || story.ID == "" {
		return core.NewError(core.KindUserInput, "story and session ids cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		"SELECT created_at FROM stories WHERE session_id = ? AND id = ?", story.SessionID, story.ID).Scan(&createdAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	exists := err == nil

	story.Size = len(story.Audio)
	if exists {
		story.CreatedAt = createdAt
		_, err = tx.ExecContext(ctx,
			"UPDATE stories SET theme = ?, audio = ?, size = ? WHERE session_id = ? AND id = ?",
			string(story.Theme), story.Audio, story.Size, story.SessionID, story.ID)
	} else {
		if story.CreatedAt.IsZero() {
			story.CreatedAt = time.Now()
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO stories (id, session_id, theme, audio, size, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			story.ID, story.SessionID, string(story.Theme), story.Audio, story.Size, story.CreatedAt)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"session_id": story.SessionID,
		"story_id":   story.ID,
		"size":       story.Size,
	}).Info("Story saved successfully")
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, sessionID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM stories WHERE session_id = ? AND id = ?", sessionID, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewError(core.KindNotFound, "story %s not found", id)
	}
	return nil
}
