package cloudsync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"taitest/models"
	"taitest/store"
)

// ErrSyncInProgress is returned when a sync is triggered while another one is
// still running. Overlapping triggers coalesce instead of interleaving.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncState is the observable state of the reconciler, retained for the UI.
type SyncState struct {
	IsSyncing    bool
	LastSyncTime *time.Time
	SyncError    string
	SyncedCount  int
}

// Reconciler merges the local result collection with the remote one:
// best-effort, at-least-once, idempotent by result id. There is no conflict
// detection; ids are client-generated and assumed unique per logical result.
type Reconciler struct {
	store  *store.Store
	client *Client

	mu sync.Mutex // single-slot guard around push/pull/sync

	stateMu sync.Mutex
	state   SyncState
}

// NewReconciler returns a Reconciler over the local store and remote client.
func NewReconciler(st *store.Store, client *Client) *Reconciler {
	return &Reconciler{store: st, client: client}
}

// State returns a snapshot of the current sync state.
func (r *Reconciler) State() SyncState {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *Reconciler) setSyncing(syncing bool) {
	r.stateMu.Lock()
	r.state.IsSyncing = syncing
	if syncing {
		r.state.SyncError = ""
	}
	r.stateMu.Unlock()
}

func (r *Reconciler) finishRun(synced int, err error) {
	r.stateMu.Lock()
	r.state.IsSyncing = false
	r.state.SyncedCount = synced
	if err != nil {
		r.state.SyncError = err.Error()
	} else {
		now := time.Now()
		r.state.LastSyncTime = &now
	}
	r.stateMu.Unlock()
}

// LastSyncTime returns the advisory local last-sync marker.
func (r *Reconciler) LastSyncTime() *time.Time {
	return r.store.LastSyncTime()
}

// Push uploads every locally stored result. Per-item failures are logged and
// skipped; the batch continues. Returns the number of results uploaded.
func (r *Reconciler) Push(ctx context.Context) (int, error) {
	if !r.mu.TryLock() {
		return 0, ErrSyncInProgress
	}
	defer r.mu.Unlock()
	return r.push(ctx)
}

// Pull fetches the full remote result set and merges every result not yet
// known locally. Returns the number of results added.
func (r *Reconciler) Pull(ctx context.Context) (int, error) {
	if !r.mu.TryLock() {
		return 0, ErrSyncInProgress
	}
	defer r.mu.Unlock()
	return r.pull(ctx)
}

// Sync runs push then pull, sequentially and non-atomically: a failed push
// does not prevent the pull.
func (r *Reconciler) Sync(ctx context.Context) error {
	if !r.mu.TryLock() {
		return ErrSyncInProgress
	}
	defer r.mu.Unlock()

	pushed, pushErr := r.push(ctx)
	if pushErr != nil {
		log.Printf("Push failed, continuing with pull: %v", pushErr)
	}
	pulled, pullErr := r.pull(ctx)
	if pullErr != nil {
		return pullErr
	}
	log.Printf("Sync complete: %d uploaded, %d downloaded", pushed, pulled)
	return pushErr
}

func (r *Reconciler) push(ctx context.Context) (int, error) {
	if !r.client.Authenticated() {
		return 0, nil
	}
	deviceID, err := r.store.DeviceID()
	if err != nil {
		return 0, err
	}

	r.setSyncing(true)

	results := r.store.Results()
	synced := 0
	for _, result := range results {
		if err := r.client.CreateResult(ctx, result); err != nil {
			log.Printf("Error syncing test result %s: %v", result.ID, err)
			continue
		}
		if err := r.client.RecordSyncEvent(ctx, models.RecordSyncRequest{
			DeviceID:   deviceID,
			Action:     models.SyncActionUpload,
			EntityType: models.SyncEntityTestResult,
			EntityID:   result.ID,
		}); err != nil {
			log.Printf("Error recording upload sync event for %s: %v", result.ID, err)
		}
		synced++
	}

	now := time.Now()
	if err := r.store.SetLastSyncTime(now); err != nil {
		log.Printf("Error updating last sync time: %v", err)
	}

	r.finishRun(synced, nil)
	return synced, nil
}

func (r *Reconciler) pull(ctx context.Context) (int, error) {
	if !r.client.Authenticated() {
		return 0, nil
	}
	deviceID, err := r.store.DeviceID()
	if err != nil {
		return 0, err
	}

	r.setSyncing(true)

	remote, err := r.client.ListResults(ctx)
	if err != nil {
		r.finishRun(0, err)
		return 0, err
	}

	// The owning user is a server-side concept; local results carry no user.
	for i := range remote {
		remote[i].UserID = ""
	}

	added, err := r.store.MergeResults(remote)
	if err != nil {
		r.finishRun(0, err)
		return 0, err
	}

	// One ledger entry for the whole batch, unlike push.
	if err := r.client.RecordSyncEvent(ctx, models.RecordSyncRequest{
		DeviceID:   deviceID,
		Action:     models.SyncActionDownload,
		EntityType: models.SyncEntityTestResult,
	}); err != nil {
		log.Printf("Error recording download sync event: %v", err)
	}

	now := time.Now()
	if err := r.store.SetLastSyncTime(now); err != nil {
		log.Printf("Error updating last sync time: %v", err)
	}

	r.finishRun(added, nil)
	return added, nil
}
