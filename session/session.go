package session

import (
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"taitest/bank"
	"taitest/models"
)

// generalTestSize is the number of questions drawn for a general exam. Banks
// smaller than this silently yield fewer questions.
const generalTestSize = 20

// ErrNoActiveSession is returned by Finish when the session handle is nil or
// the attempt has already been completed or cancelled.
var ErrNoActiveSession = errors.New("no active test session")

// Status tracks the lifecycle of an attempt. A finished or cancelled session
// has no further existence; callers drop the handle.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// ResultSaver persists a completed attempt. *store.Store satisfies it.
type ResultSaver interface {
	SaveResult(result models.TestResult) error
}

// Engine creates sessions from the question bank and persists finished
// attempts. Sessions are explicit handles: every operation takes place on the
// *Session the caller holds, there is no ambient current-session state.
type Engine struct {
	bank  *bank.Bank
	store ResultSaver
	rng   *rand.Rand
}

// New returns an Engine over the given bank and result store.
func New(b *bank.Bank, store ResultSaver) *Engine {
	return &Engine{
		bank:  b,
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Session is one in-progress quiz attempt. The question order is fixed at
// creation; position, answers and skips mutate until Finish or Cancel.
type Session struct {
	ID        string
	Type      models.TestType
	BlockID   models.BlockID // set iff Type is TestTypeBlock
	Questions []models.Question
	StartTime time.Time

	index   int
	answers map[string]models.AnswerOption
	skipped map[string]struct{}
	status  Status
}

// StartBlockTest begins an attempt over a uniform shuffle of one block's
// questions.
func (e *Engine) StartBlockTest(blockID models.BlockID) *Session {
	questions := e.bank.ByBlock(blockID)
	e.rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	s := e.newSession(models.TestTypeBlock, questions)
	s.BlockID = blockID
	return s
}

// StartGeneralTest begins an attempt over a random 20-question sample drawn
// without repetition from the entire bank.
func (e *Engine) StartGeneralTest() *Session {
	questions := e.bank.Questions()
	e.rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	if len(questions) > generalTestSize {
		questions = questions[:generalTestSize]
	}
	return e.newSession(models.TestTypeGeneral, questions)
}

func (e *Engine) newSession(testType models.TestType, questions []models.Question) *Session {
	return &Session{
		ID:        "session_" + uuid.NewString(),
		Type:      testType,
		Questions: questions,
		StartTime: time.Now(),
		answers:   make(map[string]models.AnswerOption),
		skipped:   make(map[string]struct{}),
		status:    StatusInProgress,
	}
}

// active reports whether operations should apply. All mutating and read
// operations are no-ops on nil or non-in-progress sessions.
func (s *Session) active() bool {
	return s != nil && s.status == StatusInProgress
}

// Answer records the option for the current question, overwriting any prior
// answer. Answers stay mutable until Finish.
func (s *Session) Answer(option models.AnswerOption) {
	if !s.active() || len(s.Questions) == 0 {
		return
	}
	s.answers[s.Questions[s.index].ID] = option
}

// Next advances to the following question; no-op at the last index.
func (s *Session) Next() {
	if !s.active() {
		return
	}
	if s.index < len(s.Questions)-1 {
		s.index++
	}
}

// Previous moves back one question; no-op at index 0.
func (s *Session) Previous() {
	if !s.active() {
		return
	}
	if s.index > 0 {
		s.index--
	}
}

// Skip marks the current question as skipped and advances like Next. Skipping
// does not clear an existing answer; skip and answer are independent.
func (s *Session) Skip() {
	if !s.active() || len(s.Questions) == 0 {
		return
	}
	s.skipped[s.Questions[s.index].ID] = struct{}{}
	s.Next()
}

// GoTo jumps directly to a question index; no-op when out of bounds.
func (s *Session) GoTo(index int) {
	if !s.active() {
		return
	}
	if index >= 0 && index < len(s.Questions) {
		s.index = index
	}
}

// Cancel discards the session without producing a result.
func (s *Session) Cancel() {
	if !s.active() {
		return
	}
	s.status = StatusCompleted
}

// CurrentIndex returns the current position within the question sequence.
func (s *Session) CurrentIndex() int {
	if s == nil {
		return 0
	}
	return s.index
}

// CurrentQuestion returns the question at the current position, or nil when
// no session is active.
func (s *Session) CurrentQuestion() *models.Question {
	if !s.active() || len(s.Questions) == 0 {
		return nil
	}
	q := s.Questions[s.index]
	return &q
}

// CurrentAnswer returns the recorded answer for the current question, or ""
// when it is unanswered.
func (s *Session) CurrentAnswer() models.AnswerOption {
	q := s.CurrentQuestion()
	if q == nil {
		return ""
	}
	return s.answers[q.ID]
}

// Progress returns position/total as a percentage. The position is the
// pre-advance index, so progress trails by one question until the end; the
// UI has always shown it that way.
func (s *Session) Progress() float64 {
	if !s.active() || len(s.Questions) == 0 {
		return 0
	}
	return float64(s.index) / float64(len(s.Questions)) * 100
}

// AnsweredCount returns the number of answer-map entries.
func (s *Session) AnsweredCount() int {
	if !s.active() {
		return 0
	}
	return len(s.answers)
}

// IsSkipped reports whether a question id is in the skip set.
func (s *Session) IsSkipped(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.skipped[id]
	return ok
}

// SkippedCount returns the size of the skip set.
func (s *Session) SkippedCount() int {
	if s == nil {
		return 0
	}
	return len(s.skipped)
}

// Finish scores the attempt, persists the TestResult and completes the
// session. Unanswered and skipped questions count as incorrect. If
// persistence fails the session stays in progress so the caller may retry.
func (e *Engine) Finish(s *Session) (*models.TestResult, error) {
	if !s.active() {
		return nil, ErrNoActiveSession
	}

	score := 0
	for _, q := range s.Questions {
		if s.answers[q.ID] == q.CorrectAnswer {
			score++
		}
	}

	endTime := time.Now()
	total := len(s.Questions)
	percentage := 0.0
	if total > 0 {
		percentage = float64(score) / float64(total) * 100
	}

	answers := make(map[string]models.AnswerOption, len(s.answers))
	for id, opt := range s.answers {
		answers[id] = opt
	}

	result := models.TestResult{
		ID:             "result_" + uuid.NewString(),
		Type:           s.Type,
		BlockID:        s.BlockID,
		BlockName:      models.BlockName(s.BlockID),
		StartTime:      s.StartTime,
		EndTime:        endTime,
		Questions:      s.Questions,
		UserAnswers:    answers,
		Score:          score,
		TotalQuestions: total,
		Percentage:     percentage,
		Duration:       int(endTime.Sub(s.StartTime) / time.Second),
		CreatedAt:      endTime,
	}

	if err := e.store.SaveResult(result); err != nil {
		return nil, err
	}

	s.status = StatusCompleted
	return &result, nil
}
