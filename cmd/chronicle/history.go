package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/fatih/color"

	"github.com/usechronicle/chronicle/internal/config"
	"github.com/usechronicle/chronicle/internal/history"
)

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	n := fs.Int("n", 20, "Entries to show")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	path, err := config.HistoryPath()
	if err != nil {
		log.Fatalf("resolving history path: %v", err)
	}
	journal, err := history.Open(path)
	if err != nil {
		log.Fatalf("opening history: %v", err)
	}
	defer journal.Close()

	entries, err := journal.Recent(*n)
	if err != nil {
		log.Fatalf("reading history: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No syncs recorded yet.")
		return
	}

	for _, e := range entries {
		fmt.Printf("%s  %-9s %-12s %s\n",
			e.SyncedAt.Local().Format(time.DateTime),
			outcomeLabel(e.Outcome), e.HookEvent, e.SessionID)
	}
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case history.OutcomeUploaded:
		return color.GreenString(outcome)
	case history.OutcomeSkipped:
		return outcome
	case history.OutcomeFailed:
		return color.RedString(outcome)
	default:
		return outcome
	}
}
