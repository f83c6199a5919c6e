package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"taitest/models"
)

// AdminDashboard renders the admin dashboard with metrics and recent sync
// activity.
// GET /admin/dashboard
func AdminDashboard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Fetch metrics
		var totalUsers int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(DISTINCT user_id) FROM test_results`).Scan(&totalUsers)

		var totalResults int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM test_results`).Scan(&totalResults)

		var totalSyncEvents int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM sync_log`).Scan(&totalSyncEvents)

		var failedSyncEvents int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM sync_log WHERE status = 'failed'`).Scan(&failedSyncEvents)

		// Recent activity: latest sync ledger entries
		syncRows, err := pool.Query(context.Background(), `
			SELECT id, user_id, device_id, action, entity_type, entity_id, status, last_synced_at, created_at
			FROM sync_log ORDER BY created_at DESC LIMIT 10
		`)
		var recentSync []models.SyncLogEntry
		if err == nil {
			for syncRows.Next() {
				var e models.SyncLogEntry
				_ = syncRows.Scan(&e.ID, &e.UserID, &e.DeviceID, &e.Action, &e.EntityType,
					&e.EntityID, &e.Status, &e.LastSyncedAt, &e.CreatedAt)
				recentSync = append(recentSync, e)
			}
			syncRows.Close()
		} else {
			log.Printf("Error fetching recent sync events: %v", err)
		}

		// Recent activity: latest uploaded results
		resultRows, err := pool.Query(context.Background(), `
			SELECT id, user_id, type, COALESCE(block_name, ''), score, total_questions, created_at
			FROM test_results ORDER BY created_at DESC LIMIT 10
		`)
		var recentResults []models.TestResult
		if err == nil {
			for resultRows.Next() {
				var r models.TestResult
				_ = resultRows.Scan(&r.ID, &r.UserID, &r.Type, &r.BlockName, &r.Score, &r.TotalQuestions, &r.CreatedAt)
				recentResults = append(recentResults, r)
			}
			resultRows.Close()
		} else {
			log.Printf("Error fetching recent results: %v", err)
		}

		c.HTML(http.StatusOK, "admin_dashboard", gin.H{
			"Title":            "TAI Sync Admin Dashboard",
			"TotalUsers":       totalUsers,
			"TotalResults":     totalResults,
			"TotalSyncEvents":  totalSyncEvents,
			"FailedSyncEvents": failedSyncEvents,
			"RecentSync":       recentSync,
			"RecentResults":    recentResults,
			"UserID":           c.GetString("user_id"),
		})
	}
}
