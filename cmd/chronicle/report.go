package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/usechronicle/chronicle/internal/client"
	"github.com/usechronicle/chronicle/internal/config"
)

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	title := fs.String("title", "", "Issue title (required)")
	body := fs.String("body", "", "Issue body")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: chronicle report -title <title> [-body <body>]")
		fmt.Fprintln(fs.Output(), "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}
	if *title == "" {
		fs.Usage()
		os.Exit(2)
	}

	cred, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if !cred.Authenticated() {
		log.Fatalf("not logged in, run `chronicle login` first")
	}

	cwd, _ := os.Getwd()
	c := client.New(cred.ServerURL, cred.APIKey)
	if err := c.SubmitIssue(
		context.Background(), *title, *body, cwd,
	); err != nil {
		log.Fatalf("submitting report: %v", err)
	}
	fmt.Println("Report submitted. Thank you!")
}
