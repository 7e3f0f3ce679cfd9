package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/usechronicle/chronicle/internal/config"
	"github.com/usechronicle/chronicle/internal/logging"
)

func runLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	n := fs.Int("n", 50, "Lines to show")
	follow := fs.Bool("f", false, "Follow the log")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	path, err := config.LogPath()
	if err != nil {
		log.Fatalf("resolving log path: %v", err)
	}

	lines, err := logging.LastLines(path, *n)
	if err != nil {
		log.Fatalf("reading log: %v", err)
	}
	if len(lines) == 0 && !*follow {
		fmt.Println("No log entries yet.")
		return
	}
	for _, line := range lines {
		fmt.Println(logging.Colorize(line))
	}

	if !*follow {
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt,
	)
	defer stop()
	err = logging.Follow(ctx, path, os.Stdout)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("following log: %v", err)
	}
}
