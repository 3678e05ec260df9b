package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"forumchat/internal/models"
)

// DB is the client's local cache of the last known roster, so the user list
// and unread markers are available before the socket delivers a user_list.
type DB struct {
	*sql.DB
}

func NewDB(dbPath string) (*DB, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One writer; the event loop is the only caller.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS roster (
			owner_uuid TEXT NOT NULL,
			user_uuid TEXT NOT NULL,
			nickname TEXT NOT NULL,
			last_message TEXT,
			last_message_time DATETIME,
			unread INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner_uuid, user_uuid)
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// SaveRoster replaces the cached roster of owner with users.
func (db *DB) SaveRoster(owner string, users []models.User) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin roster save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM roster WHERE owner_uuid = ?`, owner); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO roster (owner_uuid, user_uuid, nickname, last_message, last_message_time, unread, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare roster insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range users {
		var lastMessage sql.NullString
		if u.LastMessage != nil {
			lastMessage = sql.NullString{String: *u.LastMessage, Valid: true}
		}
		var lastTime sql.NullTime
		if u.LastMessageTime != nil {
			lastTime = sql.NullTime{Time: u.LastMessageTime.UTC(), Valid: true}
		}
		if _, err := stmt.Exec(owner, u.ID, u.DisplayName, lastMessage, lastTime, u.Unread, now); err != nil {
			return fmt.Errorf("insert roster entry %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit roster save: %w", err)
	}
	return nil
}

// LoadRoster returns the cached roster of owner. Cached users are always
// offline: presence is only known from the live channel.
func (db *DB) LoadRoster(owner string) ([]models.User, error) {
	rows, err := db.Query(`
		SELECT user_uuid, nickname, last_message, last_message_time, unread
		FROM roster
		WHERE owner_uuid = ?
		ORDER BY user_uuid`, owner)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var (
			u           models.User
			lastMessage sql.NullString
			lastTime    sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.DisplayName, &lastMessage, &lastTime, &u.Unread); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		if lastMessage.Valid {
			msg := lastMessage.String
			u.LastMessage = &msg
		}
		if lastTime.Valid {
			t := lastTime.Time
			u.LastMessageTime = &t
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return users, nil
}

// ForgetOwner drops the cached roster, used on logout.
func (db *DB) ForgetOwner(owner string) error {
	if _, err := db.Exec(`DELETE FROM roster WHERE owner_uuid = ?`, owner); err != nil {
		return fmt.Errorf("forget roster: %w", err)
	}
	return nil
}
