package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	chirp "github.com/chirp-social/chirp-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	feedLimit    int
	feedOffset   int
	feedTrending bool

	postImage string

	shareComment string

	commentsLimit int
)

func init() {
	feedCmd.Flags().IntVarP(&feedLimit, "limit", "n", 20, "Maximum number of posts to return")
	feedCmd.Flags().IntVar(&feedOffset, "offset", 0, "Offset into the feed")
	feedCmd.Flags().BoolVar(&feedTrending, "trending", false, "Show trending posts instead of the follow feed")

	postCmd.Flags().StringVar(&postImage, "image", "", "Path to an image to attach")

	shareCmd.Flags().StringVar(&shareComment, "comment", "", "Optional comment on the share")

	commentsCmd.Flags().IntVarP(&commentsLimit, "limit", "n", 20, "Maximum number of comments to return")

	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(likeCmd)
	rootCmd.AddCommand(unlikeCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(commentsCmd)
	rootCmd.AddCommand(commentCmd)
}

// printPost renders one post for terminal output.
func printPost(p *chirp.Post) {
	author := p.UserID
	if p.Author != nil {
		author = "@" + p.Author.Username
	}
	fmt.Printf("%s  %s  [%s]\n", author, formatTime(p.CreatedAt), p.ID)
	fmt.Printf("  %s\n", p.Content)
	fmt.Printf("  %d likes, %d comments\n", p.Likes, p.Comments)
}

// ============================================================================
// feed
// ============================================================================

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the personal feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		opts := &chirp.Pagination{Limit: feedLimit, Offset: feedOffset}

		var (
			posts []chirp.Post
			err   error
		)
		if feedTrending {
			posts, err = client.Posts.Trending(ctx, opts)
		} else {
			posts, err = client.Posts.Feed(ctx, opts)
		}
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(posts) == 0 {
			fmt.Println("No posts found.")
			return nil
		}

		for i := range posts {
			printPost(&posts[i])
		}
		return nil
	},
}

// ============================================================================
// post
// ============================================================================

var postCmd = &cobra.Command{
	Use:   "post <content>",
	Short: "Publish a new post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		opts := &chirp.CreatePostOptions{Content: content}
		if postImage != "" {
			data, err := os.ReadFile(postImage)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			upload, err := client.Uploads.Upload(ctx, filepath.Base(postImage), data)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			opts.Image = &upload.URL
		}

		post, err := client.Posts.Create(ctx, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Posted %s.\n", post.ID)
		return nil
	},
}

// ============================================================================
// like / unlike
// ============================================================================

var likeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Like a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		count, err := client.Posts.Like(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Liked. %d likes total.\n", count.Likes)
		return nil
	},
}

var unlikeCmd = &cobra.Command{
	Use:   "unlike <post-id>",
	Short: "Remove a like from a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		count, err := client.Posts.Unlike(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Unliked. %d likes total.\n", count.Likes)
		return nil
	},
}

// ============================================================================
// share
// ============================================================================

var shareCmd = &cobra.Command{
	Use:   "share <post-id>",
	Short: "Share a post to your profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		post, err := client.Posts.Share(ctx, args[0], shareComment)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Shared as %s.\n", post.ID)
		return nil
	},
}

// ============================================================================
// comments / comment
// ============================================================================

var commentsCmd = &cobra.Command{
	Use:   "comments <post-id>",
	Short: "List comments on a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		comments, err := client.Comments.List(ctx, args[0], &chirp.Pagination{Limit: commentsLimit})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(comments) == 0 {
			fmt.Println("No comments found.")
			return nil
		}

		for _, c := range comments {
			author := c.UserID
			if c.Author != nil {
				author = "@" + c.Author.Username
			}
			fmt.Printf("[%s] %s: %s\n", formatTime(c.CreatedAt), author, c.Content)
		}
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <post-id> <content>",
	Short: "Comment on a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := client.Comments.Create(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Commented %s.\n", c.ID)
		return nil
	},
}
