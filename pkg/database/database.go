package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// DB wraps the SQLite database that MemDB snapshots into.
type DB struct {
	conn *sql.DB
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Snapshots are the only writer
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates all tables and indexes if they don't exist
func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS User (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	posts INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

-- follower follows target
CREATE TABLE IF NOT EXISTS Follow (
	follower_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	PRIMARY KEY (follower_id, target_id),
	FOREIGN KEY (follower_id) REFERENCES User(id) ON DELETE CASCADE,
	FOREIGN KEY (target_id) REFERENCES User(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS Block (
	blocker_id INTEGER NOT NULL,
	blocked_id INTEGER NOT NULL,
	PRIMARY KEY (blocker_id, blocked_id),
	FOREIGN KEY (blocker_id) REFERENCES User(id) ON DELETE CASCADE,
	FOREIGN KEY (blocked_id) REFERENCES User(id) ON DELETE CASCADE
);

-- Notifications waiting for an offline recipient
CREATE TABLE IF NOT EXISTS PendingNotification (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient_id INTEGER NOT NULL,
	kind INTEGER NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	FOREIGN KEY (recipient_id) REFERENCES User(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_follow_target ON Follow(target_id);
CREATE INDEX IF NOT EXISTS idx_pending_recipient ON PendingNotification(recipient_id, id);
`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		schemaVersion, time.Now().UnixMilli(),
	)
	return err
}

// SchemaVersion returns the highest applied schema version.
func (db *DB) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := db.conn.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// Snapshot is the full persisted state of a MemDB.
type Snapshot struct {
	Users   []*User // registration order
	Follows []FollowEdge
	Blocks  []BlockEdge
	Pending []PendingRow
}

// FollowEdge records that Follower follows Target. Seq orders a user's
// followers by when they started following.
type FollowEdge struct {
	Follower int64
	Target   int64
	Seq      int64
}

type BlockEdge struct {
	Blocker int64
	Blocked int64
}

type PendingRow struct {
	Recipient int64
	Notification
}

// Load reads the whole snapshot.
func (db *DB) Load() (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := db.conn.Query("SELECT id, name, password_hash, posts, created_at FROM User ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.PasswordHash, &u.Posts, &u.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		snap.Users = append(snap.Users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.conn.Query("SELECT follower_id, target_id, seq FROM Follow ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load follows: %w", err)
	}
	for rows.Next() {
		var e FollowEdge
		if err := rows.Scan(&e.Follower, &e.Target, &e.Seq); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan follow: %w", err)
		}
		snap.Follows = append(snap.Follows, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.conn.Query("SELECT blocker_id, blocked_id FROM Block")
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}
	for rows.Next() {
		var e BlockEdge
		if err := rows.Scan(&e.Blocker, &e.Blocked); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		snap.Blocks = append(snap.Blocks, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.conn.Query("SELECT recipient_id, kind, sender, content FROM PendingNotification ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load pending notifications: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PendingRow
		if err := rows.Scan(&p.Recipient, &p.Kind, &p.Sender, &p.Content); err != nil {
			return nil, fmt.Errorf("failed to scan pending notification: %w", err)
		}
		snap.Pending = append(snap.Pending, p)
	}
	return snap, rows.Err()
}

// Save replaces the stored state with snap in one transaction.
func (db *DB) Save(snap *Snapshot) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"PendingNotification", "Block", "Follow", "User"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	userStmt, err := tx.Prepare("INSERT INTO User (id, name, password_hash, posts, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer userStmt.Close()
	for _, u := range snap.Users {
		if _, err := userStmt.Exec(u.ID, u.Name, u.PasswordHash, u.Posts, u.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert user %q: %w", u.Name, err)
		}
	}

	followStmt, err := tx.Prepare("INSERT INTO Follow (follower_id, target_id, seq) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer followStmt.Close()
	for _, e := range snap.Follows {
		if _, err := followStmt.Exec(e.Follower, e.Target, e.Seq); err != nil {
			return fmt.Errorf("failed to insert follow: %w", err)
		}
	}

	blockStmt, err := tx.Prepare("INSERT INTO Block (blocker_id, blocked_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer blockStmt.Close()
	for _, e := range snap.Blocks {
		if _, err := blockStmt.Exec(e.Blocker, e.Blocked); err != nil {
			return fmt.Errorf("failed to insert block: %w", err)
		}
	}

	pendingStmt, err := tx.Prepare("INSERT INTO PendingNotification (recipient_id, kind, sender, content) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer pendingStmt.Close()
	for _, p := range snap.Pending {
		if _, err := pendingStmt.Exec(p.Recipient, p.Kind, p.Sender, p.Content); err != nil {
			return fmt.Errorf("failed to insert pending notification: %w", err)
		}
	}

	return tx.Commit()
}
