package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/usechronicle/chronicle/internal/config"
	"github.com/usechronicle/chronicle/internal/update"
)

func runUpdate(args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	check := fs.Bool("check", false,
		"Check for updates without installing")
	yes := fs.Bool("yes", false,
		"Install without confirmation prompt")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	if *check {
		dir, err := config.Dir()
		if err != nil {
			log.Fatalf("resolving config dir: %v", err)
		}
		latest, err := update.CheckCached(version, dir)
		if err != nil {
			log.Fatalf("checking for updates: %v", err)
		}
		if update.Newer(latest, version) {
			fmt.Printf("Update available: %s -> %s\n", version, latest)
			fmt.Println("Run `chronicle update` to install.")
		} else {
			fmt.Printf("chronicle %s is up to date.\n", version)
		}
		return
	}

	info, err := update.Check(version)
	if err != nil {
		log.Fatalf("checking for updates: %v", err)
	}
	if info == nil {
		fmt.Printf("chronicle %s is up to date.\n", version)
		return
	}

	fmt.Printf("Update available: %s -> %s",
		info.CurrentVersion, info.LatestVersion)
	if info.Size > 0 {
		fmt.Printf(" (%s)", update.FormatSize(info.Size))
	}
	fmt.Println()

	if !*yes {
		fmt.Print("Install update? [y/N] ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Update cancelled.")
			return
		}
	}

	progress := func(done, total int64) {
		if total > 0 {
			fmt.Printf("\r  %s / %s (%.0f%%)",
				update.FormatSize(done), update.FormatSize(total),
				float64(done)/float64(total)*100)
		}
	}
	if err := update.Apply(info, progress); err != nil {
		fmt.Println()
		log.Fatalf("update failed: %v", err)
	}
	fmt.Println("\nUpdate complete.")
}
