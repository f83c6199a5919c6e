package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taitest/db"
	"taitest/models"
	"taitest/utils"
)

// CreateTestResult stores one uploaded result for the authenticated user.
// The client-generated id is the primary key; re-uploading the same result is
// a no-op, which makes push idempotent.
// POST /api/v1/results
func CreateTestResult(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateResultRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := c.GetString("user_id") // Set by JWT middleware

		answersJSON, err := json.Marshal(req.UserAnswers)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user answers"})
			return
		}
		questionsJSON, err := json.Marshal(req.Questions)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid questions"})
			return
		}

		createdAt := req.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		_, err = pool.Exec(context.Background(), `
			INSERT INTO test_results (
				id, user_id, type, block_id, block_name, start_time, end_time,
				score, total_questions, percentage, duration, user_answers, questions, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING
		`, req.ID, userID, req.Type, utils.StringPtr(string(req.BlockID)), utils.StringPtr(req.BlockName),
			req.StartTime, req.EndTime, req.Score, req.TotalQuestions, req.Percentage,
			req.Duration, answersJSON, questionsJSON, createdAt)
		if err != nil {
			log.Printf("Error inserting test result %s for user %s: %v", req.ID, userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store test result"})
			return
		}

		if err := db.RecomputeUserStats(pool, userID); err != nil {
			// The nightly sweep repairs this; the upload itself succeeded.
			log.Printf("Error recomputing stats for user %s: %v", userID, err)
		}

		c.JSON(http.StatusOK, models.CreateResultResponse{ID: req.ID})
	}
}

// scanResults reads test_results rows into models.
func scanResults(rows pgx.Rows) ([]models.TestResult, error) {
	var results []models.TestResult
	for rows.Next() {
		var r models.TestResult
		var blockID, blockName *string
		var answersJSON, questionsJSON []byte
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.Type, &blockID, &blockName, &r.StartTime, &r.EndTime,
			&r.Score, &r.TotalQuestions, &r.Percentage, &r.Duration,
			&answersJSON, &questionsJSON, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		if blockID != nil {
			r.BlockID = models.BlockID(*blockID)
		}
		if blockName != nil {
			r.BlockName = *blockName
		}
		if err := json.Unmarshal(answersJSON, &r.UserAnswers); err != nil {
			log.Printf("Error unmarshaling user answers for result %s: %v", r.ID, err)
		}
		if err := json.Unmarshal(questionsJSON, &r.Questions); err != nil {
			log.Printf("Error unmarshaling questions for result %s: %v", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const resultColumns = `
	id, user_id, type, block_id, block_name, start_time, end_time,
	score, total_questions, percentage, duration, user_answers, questions, created_at
`

// ListTestResults returns the full remote result set for the caller, newest
// first.
// GET /api/v1/results
func ListTestResults(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		rows, err := pool.Query(context.Background(),
			`SELECT `+resultColumns+` FROM test_results WHERE user_id = $1 ORDER BY created_at DESC`, userID)
		if err != nil {
			log.Printf("Error querying test results for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve test results"})
			return
		}
		defer rows.Close()

		results, err := scanResults(rows)
		if err != nil {
			log.Printf("Error scanning test results for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process test results"})
			return
		}
		if results == nil {
			results = []models.TestResult{}
		}
		c.JSON(http.StatusOK, results)
	}
}

// GetTestResult returns a single result owned by the caller.
// GET /api/v1/results/:id
func GetTestResult(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		resultID := c.Param("id")

		rows, err := pool.Query(context.Background(),
			`SELECT `+resultColumns+` FROM test_results WHERE id = $1 AND user_id = $2`, resultID, userID)
		if err != nil {
			log.Printf("Error querying test result %s: %v", resultID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve test result"})
			return
		}
		defer rows.Close()

		results, err := scanResults(rows)
		if err != nil {
			log.Printf("Error scanning test result %s: %v", resultID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process test result"})
			return
		}
		if len(results) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Test result not found"})
			return
		}
		c.JSON(http.StatusOK, results[0])
	}
}

// GetBlockResults returns the caller's results for one block, newest first.
// GET /api/v1/blocks/:block_id/results
func GetBlockResults(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		blockID := c.Param("block_id")

		rows, err := pool.Query(context.Background(),
			`SELECT `+resultColumns+` FROM test_results WHERE user_id = $1 AND block_id = $2 ORDER BY created_at DESC`,
			userID, blockID)
		if err != nil {
			log.Printf("Error querying block results for user %s, block %s: %v", userID, blockID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve block results"})
			return
		}
		defer rows.Close()

		results, err := scanResults(rows)
		if err != nil {
			log.Printf("Error scanning block results for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process block results"})
			return
		}
		if results == nil {
			results = []models.TestResult{}
		}
		c.JSON(http.StatusOK, results)
	}
}

// GetUserStats returns the caller's aggregate row, or zeroes before their
// first upload.
// GET /api/v1/stats
func GetUserStats(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		var totalTests, totalCorrect, totalAttempted int
		var averagePercentage float64
		var lastTestAt *time.Time
		err := pool.QueryRow(context.Background(), `
			SELECT total_tests, total_correct, total_attempted, average_percentage, last_test_at
			FROM user_stats WHERE user_id = $1
		`, userID).Scan(&totalTests, &totalCorrect, &totalAttempted, &averagePercentage, &lastTestAt)
		if err != nil && err != pgx.ErrNoRows {
			log.Printf("Error querying stats for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve stats"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"totalTests":        totalTests,
			"totalCorrect":      totalCorrect,
			"totalAttempted":    totalAttempted,
			"averagePercentage": averagePercentage,
			"lastTestAt":        lastTestAt,
		})
	}
}

// RecordSyncEvent appends one entry to the sync ledger. The ledger is
// observational: nothing reads it back to drive reconciliation.
// POST /api/v1/sync_events
func RecordSyncEvent(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RecordSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := c.GetString("user_id")
		entryID := uuid.NewString()
		now := time.Now()

		_, err := pool.Exec(context.Background(), `
			INSERT INTO sync_log (id, user_id, device_id, action, entity_type, entity_id, status, last_synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entryID, userID, req.DeviceID, req.Action, req.EntityType, utils.StringPtr(req.EntityID),
			models.SyncStatusSuccess, now)
		if err != nil {
			log.Printf("Error recording sync event for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record sync event"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": entryID})
	}
}

// GetSyncLog lists the caller's sync ledger entries, newest first.
// GET /api/v1/sync_events
func GetSyncLog(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		rows, err := pool.Query(context.Background(), `
			SELECT id, user_id, device_id, action, entity_type, entity_id, status, last_synced_at, created_at
			FROM sync_log WHERE user_id = $1 ORDER BY created_at DESC
		`, userID)
		if err != nil {
			log.Printf("Error querying sync log for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sync log"})
			return
		}
		defer rows.Close()

		entries := []models.SyncLogEntry{}
		for rows.Next() {
			var e models.SyncLogEntry
			if err := rows.Scan(
				&e.ID, &e.UserID, &e.DeviceID, &e.Action, &e.EntityType,
				&e.EntityID, &e.Status, &e.LastSyncedAt, &e.CreatedAt,
			); err != nil {
				log.Printf("Error scanning sync log entry: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process sync log"})
				return
			}
			entries = append(entries, e)
		}
		c.JSON(http.StatusOK, entries)
	}
}

// GetLastSyncTime returns the newest ledger timestamp for one device.
// GET /api/v1/sync_events/last?device_id=...
func GetLastSyncTime(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		deviceID := c.Query("device_id")
		if deviceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "device_id query parameter required"})
			return
		}

		var lastSyncedAt *time.Time
		err := pool.QueryRow(context.Background(), `
			SELECT MAX(last_synced_at) FROM sync_log WHERE user_id = $1 AND device_id = $2
		`, userID, deviceID).Scan(&lastSyncedAt)
		if err != nil && err != pgx.ErrNoRows {
			log.Printf("Error querying last sync time for user %s, device %s: %v", userID, deviceID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve last sync time"})
			return
		}

		c.JSON(http.StatusOK, models.LastSyncResponse{LastSyncedAt: lastSyncedAt})
	}
}
