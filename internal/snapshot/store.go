// Package snapshot persists the last-known-good feed view per topic so a
// cold start can render instantly before any remote data arrives.
package snapshot

import (
	"storyfeed/internal/models"
)

// Store is the cold-start snapshot persistence contract. Save always
// overwrites the whole snapshot for a topic; there is no incremental patch
// path, which rules out partial-write corruption of the cold-start view.
type Store interface {
	Load(topicKey string) (*models.Snapshot, error)
	Save(topicKey string, snap *models.Snapshot) error
	Delete(topicKey string) error
	Info(topicKey string) (*models.SnapshotInfo, error)
	ListTopics() ([]string, error)
	Close() error
}
