package processes

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// SessionRecord is one journaled subprocess session: which configuration
// it served, where it was bound, and when it started and stopped.
type SessionRecord struct {
	SessionID  string `db:"session_id"`
	ConfigFile string `db:"config_file"`
	Port       int    `db:"port"`
	PID        int    `db:"pid"`
	StartedAt  int64  `db:"started_at"`
	StoppedAt  *int64 `db:"stopped_at"` // Nullable: open sessions have not stopped
	ExitNote   string `db:"exit_note"`
}

// Journal persists subprocess session transitions so an operator can audit
// which subprocess served which configuration, across manager restarts.
type Journal struct {
	db *sqlx.DB
}

// NewJournal creates a journal backed by db, initializing the schema.
func NewJournal(db *sqlx.DB) (*Journal, error) {
	if err := JournalDBInit(db); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// JournalDBInit initializes the sessions table.
func JournalDBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		config_file TEXT NOT NULL,
		port INTEGER NOT NULL,
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		stopped_at INTEGER,
		exit_note TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_config_file ON sessions(config_file)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`)
	return err
}

// RecordStart journals a freshly spawned subprocess.
func (j *Journal) RecordStart(sessionID, configFile string, port, pid int) error {
	_, err := j.db.Exec(`
		INSERT INTO sessions (session_id, config_file, port, pid, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sessionID, configFile, port, pid, time.Now().UTC().Unix(),
	)
	return err
}

// RecordStop closes a journaled session. The note describes how the
// subprocess went away (clean stop, exit error, kill).
func (j *Journal) RecordStop(sessionID, note string) error {
	_, err := j.db.Exec(`
		UPDATE sessions SET stopped_at = $1, exit_note = $2 WHERE session_id = $3`,
		time.Now().UTC().Unix(), note, sessionID,
	)
	return err
}

// OpenSessions returns journaled sessions with no recorded stop.
func (j *Journal) OpenSessions() ([]SessionRecord, error) {
	var records []SessionRecord
	err := j.db.Select(&records,
		"SELECT * FROM sessions WHERE stopped_at IS NULL ORDER BY started_at")
	return records, err
}

// RecentSessions returns the most recently started sessions.
func (j *Journal) RecentSessions(limit int) ([]SessionRecord, error) {
	var records []SessionRecord
	err := j.db.Select(&records,
		"SELECT * FROM sessions ORDER BY started_at DESC LIMIT $1", limit)
	return records, err
}
