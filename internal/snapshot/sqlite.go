package snapshot

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"storyfeed/internal/models"
)

// SQLiteStore keeps one row per topic: the JSON-encoded snapshot blob plus
// its freshness timestamp.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if needed) the snapshot database under dataDir.
func NewStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "snapshots.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		topic_key  TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		item_count INTEGER NOT NULL,
		saved_at   TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(topicKey string) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM snapshots WHERE topic_key = ?`, topicKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot for topic '%s'", topicKey)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStore) Save(topicKey string, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	// Full overwrite of the row, never a partial update.
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO snapshots (topic_key, payload, item_count, saved_at) VALUES (?, ?, ?, ?)`,
		topicKey, payload, len(snap.Items), snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(topicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE topic_key = ?`, topicKey); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Info(topicKey string) (*models.SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &models.SnapshotInfo{TopicKey: topicKey}
	var size int64
	err := s.db.QueryRow(
		`SELECT length(payload), item_count, saved_at FROM snapshots WHERE topic_key = ?`, topicKey,
	).Scan(&size, &info.ItemCount, &info.SavedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot for topic '%s'", topicKey)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot info: %w", err)
	}
	info.Size = size
	return info, nil
}

func (s *SQLiteStore) ListTopics() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT topic_key FROM snapshots ORDER BY topic_key`)
	if err != nil {
		return nil, fmt.Errorf("list snapshot topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
