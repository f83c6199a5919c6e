package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"taitest/bank"
	"taitest/models"
)

// memorySaver collects saved results; failures counts down before saves
// start succeeding.
type memorySaver struct {
	saved    []models.TestResult
	failures int
}

func (m *memorySaver) SaveResult(result models.TestResult) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("disk full")
	}
	m.saved = append(m.saved, result)
	return nil
}

// makeBank builds a bank with n questions per given block, all with correct
// answer "a".
func makeBank(t *testing.T, perBlock map[models.BlockID]int) *bank.Bank {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("questions:\n")
	for _, blockID := range models.BlockOrder {
		for i := 0; i < perBlock[blockID]; i++ {
			fmt.Fprintf(&sb, `
  - id: %s-q%d
    block: %s
    theme: 1
    text: "question %d of %s"
    options: {a: "right", b: "wrong", c: "wrong", d: "wrong"}
    correct: a
`, blockID, i, blockID, i, blockID)
		}
	}
	b, err := bank.Parse([]byte(sb.String()))
	if err != nil {
		t.Fatalf("failed to build test bank: %v", err)
	}
	return b
}

func TestStartBlockTest(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block1: 5, models.Block2: 3})
	engine := New(b, &memorySaver{})

	s := engine.StartBlockTest(models.Block1)
	if s.Type != models.TestTypeBlock {
		t.Errorf("expected type block, got %s", s.Type)
	}
	if s.BlockID != models.Block1 {
		t.Errorf("expected block1, got %s", s.BlockID)
	}
	if len(s.Questions) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(s.Questions))
	}

	// The shuffle must be a permutation of the block: no repeats, no leaks.
	seen := make(map[string]bool)
	for _, q := range s.Questions {
		if q.Block != models.Block1 {
			t.Errorf("question %s from block %s leaked into a block1 test", q.ID, q.Block)
		}
		if seen[q.ID] {
			t.Errorf("question %s appears twice", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestStartGeneralTest(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{
		models.Block1: 10, models.Block2: 10, models.Block3: 10, models.Block4: 10,
	})
	engine := New(b, &memorySaver{})

	s := engine.StartGeneralTest()
	if s.Type != models.TestTypeGeneral {
		t.Errorf("expected type general, got %s", s.Type)
	}
	if s.BlockID != "" {
		t.Errorf("general test must not carry a block id, got %s", s.BlockID)
	}
	if len(s.Questions) != 20 {
		t.Fatalf("expected 20 questions, got %d", len(s.Questions))
	}
	seen := make(map[string]bool)
	for _, q := range s.Questions {
		if seen[q.ID] {
			t.Errorf("question %s drawn twice", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestStartGeneralTestSmallBank(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block1: 7})
	engine := New(b, &memorySaver{})

	s := engine.StartGeneralTest()
	if len(s.Questions) != 7 {
		t.Errorf("expected the whole 7-question bank, got %d questions", len(s.Questions))
	}
}

func TestNavigationBounds(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block1: 3})
	engine := New(b, &memorySaver{})
	s := engine.StartBlockTest(models.Block1)

	s.Previous()
	if s.CurrentIndex() != 0 {
		t.Errorf("Previous at index 0 must be a no-op, got index %d", s.CurrentIndex())
	}

	s.Next()
	s.Next()
	if s.CurrentIndex() != 2 {
		t.Fatalf("expected index 2, got %d", s.CurrentIndex())
	}
	s.Next()
	if s.CurrentIndex() != 2 {
		t.Errorf("Next at the last question must be a no-op, got index %d", s.CurrentIndex())
	}

	s.GoTo(1)
	if s.CurrentIndex() != 1 {
		t.Errorf("GoTo(1) expected index 1, got %d", s.CurrentIndex())
	}
	s.GoTo(-1)
	s.GoTo(3)
	if s.CurrentIndex() != 1 {
		t.Errorf("out-of-bounds GoTo must be a no-op, got index %d", s.CurrentIndex())
	}
}

func TestProgressTrailsByOne(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block1: 4})
	engine := New(b, &memorySaver{})
	s := engine.StartBlockTest(models.Block1)

	if got := s.Progress(); got != 0 {
		t.Errorf("expected 0%% at the first question, got %.1f", got)
	}
	s.Answer(models.OptionA)
	if got := s.Progress(); got != 0 {
		t.Errorf("answering must not advance progress, got %.1f", got)
	}
	s.Next()
	if got := s.Progress(); got != 25 {
		t.Errorf("expected 25%% at the second question, got %.1f", got)
	}
	s.GoTo(3)
	if got := s.Progress(); got != 75 {
		t.Errorf("expected 75%% at the last question, got %.1f", got)
	}
}

func TestAnswerOverwriteAndSkip(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block1: 3})
	engine := New(b, &memorySaver{})
	s := engine.StartBlockTest(models.Block1)

	first := s.CurrentQuestion().ID
	s.Answer(models.OptionB)
	if got := s.CurrentAnswer(); got != models.OptionB {
		t.Errorf("expected answer b, got %s", got)
	}
	s.Answer(models.OptionC)
	if got := s.CurrentAnswer(); got != models.OptionC {
		t.Errorf("answers must be overwritable, got %s", got)
	}
	if s.AnsweredCount() != 1 {
		t.Errorf("expected 1 answered, got %d", s.AnsweredCount())
	}

	// Skip advances but does not clear the recorded answer.
	s.GoTo(0)
	s.Skip()
	if !s.IsSkipped(first) {
		t.Errorf("question %s should be marked skipped", first)
	}
	if s.CurrentIndex() != 1 {
		t.Errorf("Skip should advance to index 1, got %d", s.CurrentIndex())
	}
	if s.AnsweredCount() != 1 {
		t.Errorf("skipping must not discard the answer, got %d answered", s.AnsweredCount())
	}
	if s.SkippedCount() != 1 {
		t.Errorf("expected 1 skipped, got %d", s.SkippedCount())
	}
}

func TestFinishScoring(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block1: 4})
	saver := &memorySaver{}
	engine := New(b, saver)
	s := engine.StartBlockTest(models.Block1)

	// Three right, one wrong, correct answer is always "a".
	s.Answer(models.OptionA)
	s.Next()
	s.Answer(models.OptionA)
	s.Next()
	s.Answer(models.OptionB)
	s.Next()
	s.Answer(models.OptionA)

	result, err := engine.Finish(s)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if result.Score != 3 {
		t.Errorf("expected score 3, got %d", result.Score)
	}
	if result.TotalQuestions != 4 {
		t.Errorf("expected 4 total questions, got %d", result.TotalQuestions)
	}
	if result.Percentage != 75 {
		t.Errorf("expected 75%%, got %.2f", result.Percentage)
	}
	if result.BlockName != models.BlockName(models.Block1) {
		t.Errorf("unexpected block name %q", result.BlockName)
	}
	if result.ID == "" || !strings.HasPrefix(result.ID, "result_") {
		t.Errorf("unexpected result id %q", result.ID)
	}
	if len(saver.saved) != 1 {
		t.Fatalf("expected 1 persisted result, got %d", len(saver.saved))
	}
	if saver.saved[0].ID != result.ID {
		t.Errorf("persisted result id mismatch")
	}

	// The session is gone; a second Finish must fail.
	if _, err := engine.Finish(s); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession on double finish, got %v", err)
	}
}

func TestFinishTwentyQuestionExam(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block2: 20})
	engine := New(b, &memorySaver{})
	s := engine.StartBlockTest(models.Block2)

	// 18 right, the last two wrong.
	for i := 0; i < 20; i++ {
		s.GoTo(i)
		if i < 18 {
			s.Answer(models.OptionA)
		} else {
			s.Answer(models.OptionB)
		}
	}

	result, err := engine.Finish(s)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if result.Score != 18 {
		t.Errorf("expected score 18, got %d", result.Score)
	}
	if result.Percentage != 90.0 {
		t.Errorf("expected 90.0%%, got %.2f", result.Percentage)
	}
	if result.Duration < 0 {
		t.Errorf("negative duration %d", result.Duration)
	}
}

func TestSkipMidSequence(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block3: 10})
	engine := New(b, &memorySaver{})
	s := engine.StartBlockTest(models.Block3)

	s.GoTo(5)
	id := s.CurrentQuestion().ID
	s.Answer(models.OptionD)
	s.Skip()
	if !s.IsSkipped(id) {
		t.Errorf("question at index 5 should be in the skip set")
	}
	if s.CurrentIndex() != 6 {
		t.Errorf("Skip should land on index 6, got %d", s.CurrentIndex())
	}
	s.GoTo(5)
	if got := s.CurrentAnswer(); got != models.OptionD {
		t.Errorf("skip cleared the recorded answer, got %q", got)
	}
}

func TestFinishUnansweredCountIncorrect(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block2: 3})
	engine := New(b, &memorySaver{})
	s := engine.StartBlockTest(models.Block2)

	s.Skip()
	result, err := engine.Finish(s)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if result.Score != 0 {
		t.Errorf("unanswered questions must score 0, got %d", result.Score)
	}
	if result.Percentage != 0 {
		t.Errorf("expected 0%%, got %.2f", result.Percentage)
	}
}

func TestFinishPersistFailureKeepsSession(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block1: 2})
	saver := &memorySaver{failures: 1}
	engine := New(b, saver)
	s := engine.StartBlockTest(models.Block1)
	s.Answer(models.OptionA)

	if _, err := engine.Finish(s); err == nil {
		t.Fatalf("expected persistence error")
	}
	// The attempt survives the failed save, so a retry succeeds.
	if got := s.CurrentAnswer(); got != models.OptionA {
		t.Fatalf("session lost after failed save, answer %q", got)
	}
	result, err := engine.Finish(s)
	if err != nil {
		t.Fatalf("retry after failed save should succeed, got %v", err)
	}
	if result.Score != 1 {
		t.Errorf("expected score 1 on retry, got %d", result.Score)
	}
}

func TestCancelledAndNilSessions(t *testing.T) {
	b := makeBank(t, map[models.BlockID]int{models.Block1: 2})
	engine := New(b, &memorySaver{})
	s := engine.StartBlockTest(models.Block1)

	s.Cancel()
	s.Answer(models.OptionA)
	s.Next()
	if s.AnsweredCount() != 0 {
		t.Errorf("cancelled session must ignore answers")
	}
	if s.CurrentQuestion() != nil {
		t.Errorf("cancelled session has no current question")
	}
	if _, err := engine.Finish(s); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession after cancel, got %v", err)
	}

	var nilSession *Session
	nilSession.Answer(models.OptionA)
	nilSession.Next()
	nilSession.Cancel()
	if _, err := engine.Finish(nilSession); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession for nil session, got %v", err)
	}
}
