package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/usechronicle/chronicle/internal/config"
	"github.com/usechronicle/chronicle/internal/history"
	"github.com/usechronicle/chronicle/internal/logging"
	"github.com/usechronicle/chronicle/internal/sync"
)

// runSync always exits 0. It runs inside agent lifecycle hooks, and
// a failed sync must never fail the hook; problems go to the log.
func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	session := fs.String("session", "",
		"Session ID (with -transcript)")
	transcript := fs.String("transcript", "",
		"Transcript path (with -session)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: chronicle sync [flags]")
		fmt.Fprintln(fs.Output(),
			"\nWithout flags, a hook payload is read from stdin.")
		fmt.Fprintln(fs.Output(), "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	logger := openLogger()
	defer logger.Close()

	req, err := resolveRequest(*session, *transcript)
	if err != nil {
		logger.Errorf("sync: %v", err)
		return
	}

	cred, err := config.Load()
	if err != nil {
		logger.Errorf("sync: loading config: %v", err)
		return
	}

	journal := openJournal(logger)
	defer journal.Close()

	engine := sync.NewEngine(cred, logger, journal)
	engine.Run(context.Background(), req)
}

// resolveRequest builds the request from flags when both are given,
// otherwise from the hook payload on stdin.
func resolveRequest(session, transcript string) (sync.Request, error) {
	if session != "" || transcript != "" {
		if session == "" || transcript == "" {
			return sync.Request{}, fmt.Errorf(
				"-session and -transcript must be given together")
		}
		cwd, _ := os.Getwd()
		return sync.Request{
			SessionID:      session,
			TranscriptPath: transcript,
			WorkingDir:     cwd,
			HookEvent:      sync.ManualEvent,
		}, nil
	}
	req, err := sync.ParseHookPayload(os.Stdin)
	if err != nil {
		return sync.Request{}, fmt.Errorf("reading hook payload: %w", err)
	}
	return req, nil
}

func openLogger() *logging.Logger {
	path, err := config.LogPath()
	if err != nil {
		return nil
	}
	logger, err := logging.Open(path)
	if err != nil {
		return nil
	}
	return logger
}

func openJournal(logger *logging.Logger) *history.DB {
	path, err := config.HistoryPath()
	if err != nil {
		logger.Warnf("sync: resolving history path: %v", err)
		return nil
	}
	journal, err := history.Open(path)
	if err != nil {
		logger.Warnf("sync: opening history: %v", err)
		return nil
	}
	return journal
}
