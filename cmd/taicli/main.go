package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"taitest/bank"
	"taitest/cloudsync"
	"taitest/config"
	"taitest/models"
	"taitest/session"
	"taitest/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: taicli <command>

Commands:
  block <block1|block2|block3|block4>  take a test over one thematic block
  general                              take a 20-question general exam
  history                              list past results, newest first
  stats                                show aggregate statistics
  sync                                 push local results, then pull remote ones
  push                                 upload local results to the cloud
  pull                                 download unseen remote results
  clear                                wipe all local data
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	st, err := store.Open(cfg.Client.DataDir)
	if err != nil {
		log.Fatalf("Unable to open local store: %v", err)
	}
	defer st.Close()

	switch os.Args[1] {
	case "block":
		if len(os.Args) < 3 {
			usage()
		}
		blockID := models.BlockID(os.Args[2])
		if _, ok := models.Blocks[blockID]; !ok {
			log.Fatalf("Unknown block %q", os.Args[2])
		}
		engine := newEngine(cfg, st)
		runTest(engine, engine.StartBlockTest(blockID))
	case "general":
		engine := newEngine(cfg, st)
		runTest(engine, engine.StartGeneralTest())
	case "history":
		showHistory(st)
	case "stats":
		showStats(st)
	case "sync", "push", "pull":
		runSync(cfg, st, os.Args[1])
	case "clear":
		if err := st.ClearAll(); err != nil {
			log.Fatalf("Error clearing local data: %v", err)
		}
		fmt.Println("Local data cleared.")
	default:
		usage()
	}
}

func newEngine(cfg *config.Config, st *store.Store) *session.Engine {
	b, err := bank.Load(cfg.Client.BankPath)
	if err != nil {
		log.Fatalf("Unable to load question bank: %v", err)
	}
	return session.New(b, st)
}

// runTest drives one interactive attempt until finish or cancel.
func runTest(engine *session.Engine, s *session.Session) {
	if len(s.Questions) == 0 {
		fmt.Println("No questions available for this test.")
		return
	}

	fmt.Printf("Starting %s test with %d questions. ", s.Type, len(s.Questions))
	fmt.Println("Commands: a/b/c/d answer, n next, p prev, s skip, g <num> go to, f finish, q cancel.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		printQuestion(s)
		fmt.Print("> ")
		if !scanner.Scan() {
			s.Cancel()
			return
		}
		input := strings.Fields(strings.ToLower(strings.TrimSpace(scanner.Text())))
		if len(input) == 0 {
			continue
		}

		switch input[0] {
		case "a", "b", "c", "d":
			s.Answer(models.AnswerOption(input[0]))
			s.Next()
		case "n":
			s.Next()
		case "p":
			s.Previous()
		case "s":
			s.Skip()
		case "g":
			if len(input) < 2 {
				fmt.Println("Usage: g <question number>")
				continue
			}
			num, err := strconv.Atoi(input[1])
			if err != nil {
				fmt.Println("Usage: g <question number>")
				continue
			}
			s.GoTo(num - 1)
		case "f":
			result, err := engine.Finish(s)
			if err != nil {
				log.Printf("Error finishing test: %v", err)
				fmt.Println("Could not save the result; the session is still open, try again.")
				continue
			}
			printResult(result)
			return
		case "q":
			s.Cancel()
			fmt.Println("Test cancelled.")
			return
		default:
			fmt.Println("Unknown command.")
		}
	}
}

func printQuestion(s *session.Session) {
	q := s.CurrentQuestion()
	if q == nil {
		return
	}
	fmt.Printf("\n[%d/%d] (%.0f%% done, %d answered) %s\n",
		s.CurrentIndex()+1, len(s.Questions), s.Progress(), s.AnsweredCount(), q.Text)
	fmt.Printf("  a) %s\n  b) %s\n  c) %s\n  d) %s\n", q.Options.A, q.Options.B, q.Options.C, q.Options.D)
	if ans := s.CurrentAnswer(); ans != "" {
		fmt.Printf("  current answer: %s\n", ans)
	}
	if s.IsSkipped(q.ID) {
		fmt.Println("  (skipped)")
	}
}

func printResult(r *models.TestResult) {
	fmt.Printf("\nDone! Score %d/%d (%.1f%%) in %ds.\n", r.Score, r.TotalQuestions, r.Percentage, r.Duration)
	for _, q := range r.Questions {
		ans := r.UserAnswers[q.ID]
		mark := "✗"
		if ans == q.CorrectAnswer {
			mark = "✓"
		}
		fmt.Printf("  %s %s — yours: %s, correct: %s\n", mark, q.Text, orDash(string(ans)), q.CorrectAnswer)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func showHistory(st *store.Store) {
	results := st.RecentResults(0)
	if len(results) == 0 {
		fmt.Println("No test results yet.")
		return
	}
	for _, r := range results {
		name := r.BlockName
		if name == "" {
			name = "General"
		}
		fmt.Printf("%s  %-9s %-60s %3d/%-3d %6.1f%%\n",
			r.CreatedAt.Format("2006-01-02 15:04"), r.Type, name, r.Score, r.TotalQuestions, r.Percentage)
	}
}

func showStats(st *store.Store) {
	stats := st.Stats()
	fmt.Printf("Tests: %d  Correct: %d/%d  Average: %.1f%%\n",
		stats.TotalTests, stats.TotalCorrect, stats.TotalAttempted, stats.AveragePercentage)
	for _, id := range models.BlockOrder {
		bs := stats.BlockStats[id]
		if bs == nil || bs.Attempts == 0 {
			continue
		}
		fmt.Printf("  %-10s attempts: %d  correct: %d  %.1f%%\n", id, bs.Attempts, bs.Correct, bs.Percentage)
	}
}

func runSync(cfg *config.Config, st *store.Store, command string) {
	client := cloudsync.NewClient(cfg.Client.APIBaseURL, cfg.Client.APIToken)
	if !client.Authenticated() {
		fmt.Println("Not signed in: set CLIENT.API_TOKEN to enable cloud sync.")
		return
	}
	reconciler := cloudsync.NewReconciler(st, client)
	ctx := context.Background()

	switch command {
	case "push":
		pushed, err := reconciler.Push(ctx)
		if err != nil {
			log.Fatalf("Push failed: %v", err)
		}
		fmt.Printf("Uploaded %d results.\n", pushed)
	case "pull":
		pulled, err := reconciler.Pull(ctx)
		if err != nil {
			log.Fatalf("Pull failed: %v", err)
		}
		fmt.Printf("Downloaded %d new results.\n", pulled)
	case "sync":
		if err := reconciler.Sync(ctx); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		fmt.Println("Sync complete.")
	}
	if t := reconciler.LastSyncTime(); t != nil {
		fmt.Printf("Last sync: %s\n", t.Format("2006-01-02 15:04:05"))
	}
}
