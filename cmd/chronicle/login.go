package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/fatih/color"

	"github.com/usechronicle/chronicle/internal/auth"
	"github.com/usechronicle/chronicle/internal/config"
)

func runLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	server := fs.String("server", "",
		"Server to authenticate against")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: chronicle login [flags]")
		fmt.Fprintln(fs.Output(), "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	serverURL := *server
	if serverURL == "" {
		cred, err := config.Load()
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		serverURL = cred.ServerURL
	}

	fmt.Printf("Opening your browser to sign in to %s ...\n", serverURL)
	fmt.Println("Waiting for the browser to complete sign-in.")

	cred, err := auth.Login(context.Background(), serverURL)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	name := cred.Username
	if cred.DisplayName != "" {
		name = fmt.Sprintf("%s (%s)", cred.DisplayName, cred.Username)
	}
	fmt.Printf("%s Logged in as %s\n", color.GreenString("✓"), name)
	if cred.TenantName != "" {
		fmt.Printf("  Workspace: %s\n", cred.TenantName)
	}
}

func runLogout(args []string) {
	if len(args) > 0 {
		log.Fatalf("logout takes no arguments")
	}
	if err := auth.Logout(); err != nil {
		log.Fatalf("logout failed: %v", err)
	}
	fmt.Println("Logged out.")
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	verify := fs.Bool("verify", false,
		"Verify the credential against the server")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cred, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if !cred.Authenticated() {
		fmt.Printf("%s Not logged in. Run `chronicle login`.\n",
			color.YellowString("!"))
		return
	}

	fmt.Printf("Server:   %s\n", cred.ServerURL)
	if cred.Username != "" {
		fmt.Printf("Account:  %s\n", cred.Username)
	}
	if cred.TenantName != "" {
		fmt.Printf("Workspace: %s\n", cred.TenantName)
	}
	fmt.Printf("Hooks:    %v\n", cred.EnabledEvents())

	if !*verify {
		return
	}
	_, identity, err := auth.WhoAmI(context.Background())
	if err != nil {
		fmt.Printf("%s Credential check failed: %v\n",
			color.RedString("✗"), err)
		return
	}
	fmt.Printf("%s Credential valid for %s\n",
		color.GreenString("✓"), identity.Username)
}
