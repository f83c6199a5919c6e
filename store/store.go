package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"taitest/models"
)

// Storage keys. Each key holds one serialized JSON document that is
// round-tripped whole on every mutation.
const (
	keyResults  = "tai_test_results"
	keyStats    = "tai_user_stats"
	keySettings = "tai_app_settings"
	keyDeviceID = "tai_device_id"
	keyLastSync = "tai_last_sync"
)

// blockAttemptSize is the assumed question count per block attempt when
// deriving the per-block percentage.
const blockAttemptSize = 20

// Store is the local, offline-first persistence layer: a single SQLite file
// holding independently keyed blobs. Read paths degrade to safe defaults on
// storage errors; only mutations report failure to the caller.
type Store struct {
	db *sqlx.DB
}

// Open creates the data directory if needed and opens (or initializes) the
// local store file inside it.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "taitest.db")
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to initialize local store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// getBlob unmarshals the document under key into v. The second return is
// false when the key has never been written.
func (s *Store) getBlob(key string, v interface{}) (bool, error) {
	var raw string
	err := s.db.Get(&raw, "SELECT value FROM app_state WHERE key = ?", key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// putBlob replaces the whole document under key.
func (s *Store) putBlob(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteKey(key string) error {
	if _, err := s.db.Exec("DELETE FROM app_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// ============ Test Results ============

// SaveResult appends a completed attempt to the result collection and
// recomputes the stats view.
func (s *Store) SaveResult(result models.TestResult) error {
	results := s.Results()
	results = append(results, result)
	if err := s.putBlob(keyResults, results); err != nil {
		return err
	}
	return s.recomputeStats(results)
}

// Results returns all persisted results, unordered. Storage failures degrade
// to an empty list.
func (s *Store) Results() []models.TestResult {
	var results []models.TestResult
	if _, err := s.getBlob(keyResults, &results); err != nil {
		log.Printf("Error reading test results: %v", err)
		return nil
	}
	return results
}

// ResultByID returns the result with the given id, or nil when absent.
func (s *Store) ResultByID(id string) *models.TestResult {
	for _, r := range s.Results() {
		if r.ID == id {
			return &r
		}
	}
	return nil
}

// ResultsByBlock filters the result collection by block id.
func (s *Store) ResultsByBlock(blockID models.BlockID) []models.TestResult {
	var out []models.TestResult
	for _, r := range s.Results() {
		if r.BlockID == blockID {
			out = append(out, r)
		}
	}
	return out
}

// ResultsByType filters the result collection by test type.
func (s *Store) ResultsByType(testType models.TestType) []models.TestResult {
	var out []models.TestResult
	for _, r := range s.Results() {
		if r.Type == testType {
			out = append(out, r)
		}
	}
	return out
}

// RecentResults returns up to limit results, newest first by creation time.
func (s *Store) RecentResults(limit int) []models.TestResult {
	results := s.Results()
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// DeleteResult removes one result by id and recomputes the stats view.
func (s *Store) DeleteResult(id string) error {
	results := s.Results()
	filtered := results[:0]
	for _, r := range results {
		if r.ID != id {
			filtered = append(filtered, r)
		}
	}
	if err := s.putBlob(keyResults, filtered); err != nil {
		return err
	}
	return s.recomputeStats(filtered)
}

// ClearResults wipes the result collection and resets the stats view.
func (s *Store) ClearResults() error {
	if err := s.deleteKey(keyResults); err != nil {
		return err
	}
	return s.putBlob(keyStats, models.DefaultStats())
}

// MergeResults appends results whose ids are not yet known locally and
// recomputes the stats view. It returns the number of results actually
// added, so merging the same remote set twice is a no-op.
func (s *Store) MergeResults(incoming []models.TestResult) (int, error) {
	results := s.Results()
	known := make(map[string]struct{}, len(results))
	for _, r := range results {
		known[r.ID] = struct{}{}
	}

	added := 0
	for _, r := range incoming {
		if _, ok := known[r.ID]; ok {
			continue
		}
		known[r.ID] = struct{}{}
		results = append(results, r)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	if err := s.putBlob(keyResults, results); err != nil {
		return 0, err
	}
	return added, s.recomputeStats(results)
}

// ============ User Statistics ============

// Stats returns the aggregate stats view. Storage failures and missing data
// degrade to the zero-history defaults.
func (s *Store) Stats() models.UserStats {
	stats := models.DefaultStats()
	found, err := s.getBlob(keyStats, &stats)
	if err != nil {
		log.Printf("Error reading user stats: %v", err)
		return models.DefaultStats()
	}
	if !found {
		return models.DefaultStats()
	}
	// Older blobs may lack block entries.
	for _, id := range models.BlockOrder {
		if stats.BlockStats[id] == nil {
			if stats.BlockStats == nil {
				stats.BlockStats = make(map[models.BlockID]*models.BlockStats)
			}
			stats.BlockStats[id] = &models.BlockStats{}
		}
	}
	return stats
}

// recomputeStats rebuilds the stats view from the full result list. Stats is
// a materialized view of the results blob: every mutation path funnels
// through here, so the two cannot drift.
func (s *Store) recomputeStats(results []models.TestResult) error {
	stats := models.DefaultStats()
	for _, r := range results {
		stats.TotalTests++
		stats.TotalCorrect += r.Score
		stats.TotalAttempted += r.TotalQuestions

		created := r.CreatedAt
		if stats.LastTestAt == nil || created.After(*stats.LastTestAt) {
			stats.LastTestAt = &created
		}

		if r.BlockID == "" {
			continue
		}
		bs, ok := stats.BlockStats[r.BlockID]
		if !ok {
			continue
		}
		bs.Attempts++
		bs.Correct += r.Score
		bs.Percentage = float64(bs.Correct) / float64(bs.Attempts*blockAttemptSize) * 100
		if bs.LastAttempt == nil || created.After(*bs.LastAttempt) {
			attempt := created
			bs.LastAttempt = &attempt
		}
	}
	if stats.TotalAttempted > 0 {
		stats.AveragePercentage = float64(stats.TotalCorrect) / float64(stats.TotalAttempted) * 100
	}
	return s.putBlob(keyStats, stats)
}

// ResetStats rewrites the stats view with zero-history defaults.
func (s *Store) ResetStats() error {
	return s.putBlob(keyStats, models.DefaultStats())
}

// ============ App Settings ============

// Settings returns the settings singleton, falling back to defaults.
func (s *Store) Settings() models.AppSettings {
	settings := models.DefaultSettings()
	found, err := s.getBlob(keySettings, &settings)
	if err != nil {
		log.Printf("Error reading app settings: %v", err)
		return models.DefaultSettings()
	}
	if !found {
		return models.DefaultSettings()
	}
	return settings
}

// UpdateSettings replaces the settings singleton. Callers read-modify-write.
func (s *Store) UpdateSettings(settings models.AppSettings) error {
	return s.putBlob(keySettings, settings)
}

// ============ Sync Markers ============

// DeviceID returns this install's device identifier, generating and
// persisting a fresh one on first use.
func (s *Store) DeviceID() (string, error) {
	var id string
	found, err := s.getBlob(keyDeviceID, &id)
	if err != nil {
		return "", err
	}
	if found && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.putBlob(keyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// LastSyncTime returns the advisory last-sync marker, or nil before the
// first sync. It is never used to filter remote fetches.
func (s *Store) LastSyncTime() *time.Time {
	var t time.Time
	found, err := s.getBlob(keyLastSync, &t)
	if err != nil {
		log.Printf("Error reading last sync time: %v", err)
		return nil
	}
	if !found {
		return nil
	}
	return &t
}

// SetLastSyncTime advances the last-sync marker.
func (s *Store) SetLastSyncTime(t time.Time) error {
	return s.putBlob(keyLastSync, t)
}

// ClearAll wipes results, stats, settings and sync markers.
func (s *Store) ClearAll() error {
	for _, key := range []string{keyResults, keyStats, keySettings, keyDeviceID, keyLastSync} {
		if err := s.deleteKey(key); err != nil {
			return err
		}
	}
	return nil
}
