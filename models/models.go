package models

import (
	"time"
)

// BlockID identifies one of the four fixed thematic blocks of the TAI syllabus.
type BlockID string

const (
	Block1 BlockID = "block1"
	Block2 BlockID = "block2"
	Block3 BlockID = "block3"
	Block4 BlockID = "block4"
)

// TestType distinguishes a single-block test from a general exam drawn
// across the whole bank.
type TestType string

const (
	TestTypeBlock   TestType = "block"
	TestTypeGeneral TestType = "general"
)

// AnswerOption is one of the four labeled choices of a question.
type AnswerOption string

const (
	OptionA AnswerOption = "a"
	OptionB AnswerOption = "b"
	OptionC AnswerOption = "c"
	OptionD AnswerOption = "d"
)

// ValidOption reports whether s is one of the four answer labels.
func ValidOption(s AnswerOption) bool {
	switch s {
	case OptionA, OptionB, OptionC, OptionD:
		return true
	}
	return false
}

// Options holds the four labeled choices of a question.
type Options struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
	C string `json:"c" yaml:"c"`
	D string `json:"d" yaml:"d"`
}

// Get returns the text for an answer label, or "" for an unknown label.
func (o Options) Get(opt AnswerOption) string {
	switch opt {
	case OptionA:
		return o.A
	case OptionB:
		return o.B
	case OptionC:
		return o.C
	case OptionD:
		return o.D
	}
	return ""
}

// Question is a single bank entry. Immutable once loaded.
type Question struct {
	ID            string       `json:"id" yaml:"id"`
	Block         BlockID      `json:"block" yaml:"block"`
	Theme         int          `json:"theme" yaml:"theme"`
	Text          string       `json:"text" yaml:"text"`
	Options       Options      `json:"options" yaml:"options"`
	CorrectAnswer AnswerOption `json:"correctAnswer" yaml:"correct"`
	Explanation   string       `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// BlockInfo describes one thematic block of the syllabus.
type BlockInfo struct {
	ID             BlockID `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	TotalThemes    int     `json:"totalThemes"`
	TotalQuestions int     `json:"totalQuestions"`
}

// BlockOrder lists the blocks in syllabus order.
var BlockOrder = []BlockID{Block1, Block2, Block3, Block4}

// Blocks maps each block to its syllabus metadata.
var Blocks = map[BlockID]BlockInfo{
	Block1: {
		ID:             Block1,
		Name:           "Organización del Estado y Administración Electrónica",
		Description:    "Normativa, Constitución, Gobierno, Protección de datos",
		TotalThemes:    9,
		TotalQuestions: 20,
	},
	Block2: {
		ID:             Block2,
		Name:           "Tecnología Básica",
		Description:    "Informática básica, periféricos, sistemas operativos, bases de datos",
		TotalThemes:    5,
		TotalQuestions: 20,
	},
	Block3: {
		ID:             Block3,
		Name:           "Desarrollo de Sistemas",
		Description:    "Programación, lenguajes, POO, aplicaciones web, accesibilidad",
		TotalThemes:    12,
		TotalQuestions: 20,
	},
	Block4: {
		ID:             Block4,
		Name:           "Sistemas y Comunicaciones",
		Description:    "Administración de sistemas, redes, TCP/IP, seguridad",
		TotalThemes:    10,
		TotalQuestions: 20,
	},
}

// BlockName returns the display name for a block, or "" for an unknown one.
func BlockName(id BlockID) string {
	if info, ok := Blocks[id]; ok {
		return info.Name
	}
	return ""
}

// TestResult is the immutable scored record of a completed attempt. The local
// device store is authoritative until the result is synced; afterwards the
// same record also exists server-side under the same id plus an owning user.
type TestResult struct {
	ID             string                  `json:"id"`
	UserID         string                  `json:"userId,omitempty"` // server-side only
	Type           TestType                `json:"type"`
	BlockID        BlockID                 `json:"blockId,omitempty"`
	BlockName      string                  `json:"blockName,omitempty"`
	StartTime      time.Time               `json:"startTime"`
	EndTime        time.Time               `json:"endTime"`
	Questions      []Question              `json:"questions"`
	UserAnswers    map[string]AnswerOption `json:"userAnswers"`
	Score          int                     `json:"score"`
	TotalQuestions int                     `json:"totalQuestions"`
	Percentage     float64                 `json:"percentage"`
	Duration       int                     `json:"duration"` // whole seconds
	CreatedAt      time.Time               `json:"createdAt"`
}

// BlockStats is the per-block slice of UserStats. Percentage assumes the
// standard 20 questions per block attempt.
type BlockStats struct {
	Attempts    int        `json:"attempts"`
	Correct     int        `json:"correct"`
	Percentage  float64    `json:"percentage"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
}

// UserStats is the aggregate view over the result history. It is recomputed
// from the full result list on every store mutation, never edited in place.
type UserStats struct {
	TotalTests        int                     `json:"totalTests"`
	TotalCorrect      int                     `json:"totalCorrect"`
	TotalAttempted    int                     `json:"totalAttempted"`
	AveragePercentage float64                 `json:"averagePercentage"`
	BlockStats        map[BlockID]*BlockStats `json:"blockStats"`
	LastTestAt        *time.Time              `json:"lastTestAt,omitempty"`
}

// DefaultStats returns the zero-history stats singleton with all four block
// entries present.
func DefaultStats() UserStats {
	blocks := make(map[BlockID]*BlockStats, len(BlockOrder))
	for _, id := range BlockOrder {
		blocks[id] = &BlockStats{}
	}
	return UserStats{BlockStats: blocks}
}

// AppSettings is the locally persisted settings singleton.
type AppSettings struct {
	DarkMode         bool   `json:"darkMode"`
	SoundEnabled     bool   `json:"soundEnabled"`
	VibrationEnabled bool   `json:"vibrationEnabled"`
	ShowTimer        bool   `json:"showTimer"`
	Theme            string `json:"theme"` // "light", "dark" or "auto"
}

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() AppSettings {
	return AppSettings{
		SoundEnabled:     true,
		VibrationEnabled: true,
		ShowTimer:        true,
		Theme:            "auto",
	}
}

// Sync-log enumerations. The log is an append-only ledger; nothing reads it
// back to drive reconciliation.
const (
	SyncActionUpload   = "upload"
	SyncActionDownload = "download"
	SyncActionSync     = "sync"

	SyncEntityTestResult = "testResult"
	SyncEntityUserStats  = "userStats"

	SyncStatusPending = "pending"
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// SyncLogEntry is one row of the remote sync ledger.
type SyncLogEntry struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	DeviceID     string     `json:"deviceId"`
	Action       string     `json:"action"`
	EntityType   string     `json:"entityType"`
	EntityID     *string    `json:"entityId,omitempty"`
	Status       string     `json:"status"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// CreateResultRequest is the payload for uploading one result. The id is the
// client-generated identifier; the server keeps it so repeated uploads of the
// same result are idempotent.
type CreateResultRequest struct {
	ID             string                  `json:"id" binding:"required"`
	Type           TestType                `json:"type" binding:"required,oneof=block general"`
	BlockID        BlockID                 `json:"blockId"`
	BlockName      string                  `json:"blockName"`
	StartTime      time.Time               `json:"startTime"`
	EndTime        time.Time               `json:"endTime"`
	Score          int                     `json:"score"`
	TotalQuestions int                     `json:"totalQuestions" binding:"required"`
	Percentage     float64                 `json:"percentage"`
	Duration       int                     `json:"duration"`
	UserAnswers    map[string]AnswerOption `json:"userAnswers"`
	Questions      []Question              `json:"questions"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// CreateResultResponse acknowledges an upload.
type CreateResultResponse struct {
	ID string `json:"id"`
}

// RecordSyncRequest appends one entry to the sync ledger.
type RecordSyncRequest struct {
	DeviceID   string `json:"deviceId" binding:"required"`
	Action     string `json:"action" binding:"required,oneof=upload download sync"`
	EntityType string `json:"entityType" binding:"required,oneof=testResult userStats"`
	EntityID   string `json:"entityId"`
}

// LastSyncResponse reports the newest ledger timestamp for one device.
type LastSyncResponse struct {
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}
