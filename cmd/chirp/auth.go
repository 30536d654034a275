package main

import (
	"context"
	"fmt"
	"time"

	chirp "github.com/chirp-social/chirp-go"
	"github.com/spf13/cobra"
)

var registerName string

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "Display name (defaults to the username)")
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

// ============================================================================
// register
// ============================================================================

var registerCmd = &cobra.Command{
	Use:   "register <username> <email> <password>",
	Short: "Create a new account",
	Long:  "Register a new Chirp account and store the returned session token locally.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, email, password := args[0], args[1], args[2]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		name := registerName
		if name == "" {
			name = username
		}

		client := getAnonClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		auth, err := client.Auth.Register(ctx, &chirp.RegisterOptions{
			Name:     name,
			Username: username,
			Email:    email,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		cfg.Auth.Token = auth.Token
		cfg.Auth.UserID = auth.User.ID
		cfg.Auth.Username = auth.User.Username
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Registration successful!")
		fmt.Printf("  User ID:  %s\n", auth.User.ID)
		fmt.Printf("  Username: %s\n", auth.User.Username)
		return nil
	},
}

// ============================================================================
// login
// ============================================================================

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Log in to an existing account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		client := getAnonClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		auth, err := client.Auth.Login(ctx, email, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = auth.Token
		cfg.Auth.UserID = auth.User.ID
		cfg.Auth.Username = auth.User.Username
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s.\n", auth.User.Username)
		return nil
	},
}

// ============================================================================
// logout
// ============================================================================

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}

// ============================================================================
// whoami
// ============================================================================

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current account",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := client.Users.Me(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Username: %s\n", user.Username)
		fmt.Printf("Name:     %s\n", user.Name)
		fmt.Printf("Email:    %s\n", user.Email)
		if user.Bio != "" {
			fmt.Printf("Bio:      %s\n", user.Bio)
		}
		fmt.Printf("Joined:   %s\n", formatTime(user.CreatedAt))
		return nil
	},
}
