package main

import (
	"fmt"
	"os"
	"time"

	chirp "github.com/chirp-social/chirp-go"
)

// getClient creates a Chirp client authenticated with the stored token.
func getClient() *chirp.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'chirp login <email> <password>' first.")
		os.Exit(1)
	}

	var opts []chirp.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chirp.WithBaseURL(cfg.Default.BaseURL))
	}

	return chirp.NewClient(cfg.Auth.Token, opts...)
}

// getAnonClient creates an unauthenticated Chirp client for login and
// registration.
func getAnonClient() *chirp.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts []chirp.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chirp.WithBaseURL(cfg.Default.BaseURL))
	}

	return chirp.NewClient("", opts...)
}

// formatTime renders a timestamp for terminal output.
func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
