package bank

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"taitest/models"
)

// Bank is the immutable ordered question collection. It is loaded once at
// process start and never mutated afterwards.
type Bank struct {
	questions []models.Question
	byID      map[string]int
}

type bankFile struct {
	Questions []models.Question `yaml:"questions"`
}

// Load reads and validates a question bank from a YAML file.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question bank %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Bank from raw YAML. Every record must carry a unique id, a
// known block, a correct answer in a-d and four non-empty options.
func Parse(data []byte) (*Bank, error) {
	var file bankFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse question bank: %w", err)
	}
	if len(file.Questions) == 0 {
		return nil, fmt.Errorf("question bank is empty")
	}

	b := &Bank{
		questions: file.Questions,
		byID:      make(map[string]int, len(file.Questions)),
	}
	for i, q := range file.Questions {
		if q.ID == "" {
			return nil, fmt.Errorf("question at index %d has no id", i)
		}
		if _, dup := b.byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		if _, ok := models.Blocks[q.Block]; !ok {
			return nil, fmt.Errorf("question %q has unknown block %q", q.ID, q.Block)
		}
		if !models.ValidOption(q.CorrectAnswer) {
			return nil, fmt.Errorf("question %q has invalid correct answer %q", q.ID, q.CorrectAnswer)
		}
		if q.Text == "" {
			return nil, fmt.Errorf("question %q has empty text", q.ID)
		}
		if q.Options.A == "" || q.Options.B == "" || q.Options.C == "" || q.Options.D == "" {
			return nil, fmt.Errorf("question %q is missing one or more options", q.ID)
		}
		b.byID[q.ID] = i
	}
	return b, nil
}

// Size returns the number of questions in the bank.
func (b *Bank) Size() int {
	return len(b.questions)
}

// Questions returns a copy of the full bank in load order.
func (b *Bank) Questions() []models.Question {
	out := make([]models.Question, len(b.questions))
	copy(out, b.questions)
	return out
}

// ByBlock returns the bank subset for one block, in load order, with no
// duplicates and no omissions. Unknown blocks yield an empty slice.
func (b *Bank) ByBlock(blockID models.BlockID) []models.Question {
	var out []models.Question
	for _, q := range b.questions {
		if q.Block == blockID {
			out = append(out, q)
		}
	}
	return out
}

// Question looks up a single question by id; the second return is false when
// the id is not in the bank.
func (b *Bank) Question(id string) (models.Question, bool) {
	i, ok := b.byID[id]
	if !ok {
		return models.Question{}, false
	}
	return b.questions[i], true
}
