package main

import (
	"context"
	"fmt"
	"time"

	chirp "github.com/chirp-social/chirp-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	searchUsersOnly bool
	searchPostsOnly bool
	searchLimit     int

	notifsUnread bool
	notifsLimit  int
)

func init() {
	searchCmd.Flags().BoolVar(&searchUsersOnly, "users", false, "Search users only")
	searchCmd.Flags().BoolVar(&searchPostsOnly, "posts", false, "Search posts only")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of results")

	notificationsCmd.Flags().BoolVar(&notifsUnread, "unread", false, "Show only unread notifications")
	notificationsCmd.Flags().IntVarP(&notifsLimit, "limit", "n", 20, "Maximum number of notifications")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(unfollowCmd)
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users and posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		opts := &chirp.Pagination{Limit: searchLimit}

		switch {
		case searchUsersOnly:
			users, err := client.Search.Users(ctx, query, opts)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			printUsers(users)
		case searchPostsOnly:
			posts, err := client.Search.Posts(ctx, query, opts)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			for i := range posts {
				printPost(&posts[i])
			}
		default:
			results, err := client.Search.All(ctx, query, opts)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			if len(results.Users) > 0 {
				fmt.Println("Users:")
				printUsers(results.Users)
			}
			if len(results.Posts) > 0 {
				fmt.Println("Posts:")
				for i := range results.Posts {
					printPost(&results.Posts[i])
				}
			}
			if len(results.Users) == 0 && len(results.Posts) == 0 {
				fmt.Println("No results found.")
			}
		}
		return nil
	},
}

func printUsers(users []chirp.User) {
	for _, u := range users {
		fmt.Printf("  @%s (%s)\n", u.Username, u.Name)
	}
}

// ============================================================================
// notifications
// ============================================================================

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		opts := &chirp.NotificationListOptions{
			Pagination: chirp.Pagination{Limit: notifsLimit},
		}
		if notifsUnread {
			unread := false
			opts.IsRead = &unread
		}

		notifs, err := client.Notifications.List(ctx, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(notifs) == 0 {
			fmt.Println("No notifications.")
			return nil
		}

		for _, n := range notifs {
			marker := " "
			if !n.IsRead {
				marker = "*"
			}
			fmt.Printf("%s [%s] %s: %s\n", marker, formatTime(n.CreatedAt), n.Type, n.Message)
		}
		return nil
	},
}

// ============================================================================
// profile
// ============================================================================

var profileCmd = &cobra.Command{
	Use:   "profile <username>",
	Short: "Show a user's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := client.Users.GetByUsername(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("@%s (%s)\n", user.Username, user.Name)
		if user.Bio != "" {
			fmt.Printf("  %s\n", user.Bio)
		}
		fmt.Printf("  %d followers, %d following\n", user.Followers, user.Following)
		fmt.Printf("  Joined %s\n", formatTime(user.CreatedAt))
		return nil
	},
}

// ============================================================================
// follow / unfollow
// ============================================================================

var followCmd = &cobra.Command{
	Use:   "follow <username>",
	Short: "Follow a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := client.Users.GetByUsername(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if err := client.Users.Follow(ctx, user.ID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Following @%s.\n", user.Username)
		return nil
	},
}

var unfollowCmd = &cobra.Command{
	Use:   "unfollow <username>",
	Short: "Unfollow a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := client.Users.GetByUsername(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if err := client.Users.Unfollow(ctx, user.ID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Unfollowed @%s.\n", user.Username)
		return nil
	},
}
