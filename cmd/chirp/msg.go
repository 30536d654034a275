package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	chirp "github.com/chirp-social/chirp-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	msgHistoryPage int
	msgVerbose     bool
)

func init() {
	msgHistoryCmd.Flags().IntVar(&msgHistoryPage, "page", 1, "Page of history to fetch (newest first)")
	msgWatchCmd.Flags().BoolVarP(&msgVerbose, "verbose", "v", false, "Log channel events to stderr")

	msgCmd.AddCommand(msgListCmd)
	msgCmd.AddCommand(msgHistoryCmd)
	msgCmd.AddCommand(msgSendCmd)
	msgCmd.AddCommand(msgReadCmd)
	msgCmd.AddCommand(msgWatchCmd)
	rootCmd.AddCommand(msgCmd)
}

var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Direct messaging commands",
	Long:  "List conversations, read history, send messages, and watch the realtime channel.",
}

// cliLogger returns a console logger for interactive commands. Quiet unless
// --verbose is set.
func cliLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if msgVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// resolveConversation finds the conversation with the given username,
// creating it when none exists yet.
func resolveConversation(ctx context.Context, client *chirp.Client, username string) (*chirp.Conversation, error) {
	conversations, err := client.Conversations.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range conversations {
		if conversations[i].Recipient.Username == username {
			return &conversations[i], nil
		}
	}

	user, err := client.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return client.Conversations.Create(ctx, user.ID)
}

// ============================================================================
// msg list
// ============================================================================

var msgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conversations, err := client.Conversations.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range conversations {
			line := fmt.Sprintf("  @%s", c.Recipient.Username)
			if c.LastMessage != nil {
				unread := ""
				if !c.LastMessage.IsRead {
					unread = " *"
				}
				line += fmt.Sprintf(": %s (%s)%s", c.LastMessage.Content, formatTime(c.LastMessage.CreatedAt), unread)
			}
			fmt.Println(line)
		}
		return nil
	},
}

// ============================================================================
// msg history
// ============================================================================

var msgHistoryCmd = &cobra.Command{
	Use:   "history <username>",
	Short: "Show message history with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conv, err := resolveConversation(ctx, client, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		inbox := chirp.NewInbox(client, cfg.Auth.UserID, cliLogger())
		messages, err := inbox.Messages(ctx, conv.ID, msgHistoryPage)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, m := range messages {
			printMessage(&m, cfg.Auth.UserID, conv.Recipient.Username)
		}
		return nil
	},
}

func printMessage(m *chirp.Message, localUserID, peerUsername string) {
	sender := "@" + peerUsername
	if m.SenderID == localUserID {
		sender = "me"
	}
	fmt.Printf("[%s] %s: %s\n", formatTime(m.CreatedAt), sender, m.Content)
}

// ============================================================================
// msg send
// ============================================================================

var msgSendCmd = &cobra.Command{
	Use:   "send <username> <message>",
	Short: "Send a direct message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conv, err := client.Conversations.SendDirect(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Sent to @%s.\n", conv.Recipient.Username)
		return nil
	},
}

// ============================================================================
// msg read
// ============================================================================

var msgReadCmd = &cobra.Command{
	Use:   "read <username>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conv, err := resolveConversation(ctx, client, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if err := client.Conversations.MarkAsRead(ctx, conv.ID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Conversation with @%s marked as read.\n", conv.Recipient.Username)
		return nil
	},
}

// ============================================================================
// msg watch
// ============================================================================

var msgWatchCmd = &cobra.Command{
	Use:   "watch <username>",
	Short: "Open a live chat with a user",
	Long:  "Stream incoming messages over the realtime channel and send replies from stdin.\nType a message and press Enter to send; Ctrl-D exits.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		client := getClient()
		logger := cliLogger()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		setupCtx, setupCancel := context.WithTimeout(ctx, 15*time.Second)
		conv, err := resolveConversation(setupCtx, client, username)
		setupCancel()
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		inbox := chirp.NewInbox(client, cfg.Auth.UserID, logger)
		inbox.Open(conv.ID)

		// Prime the cache so realtime arrivals have a page to merge into.
		histCtx, histCancel := context.WithTimeout(ctx, 15*time.Second)
		history, err := inbox.Messages(histCtx, conv.ID, 1)
		histCancel()
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		for i := range history {
			printMessage(&history[i], cfg.Auth.UserID, username)
		}

		router := chirp.NewRouter(inbox, logger)

		rt := client.Realtime(&chirp.RealtimeConfig{
			AutoReconnect: true,
			Logger:        logger,
		})
		router.Attach(ctx, rt)

		typing := chirp.NewTypingController(rt, conv.ID, conv.Recipient.ID, cfg.Auth.UserID)
		defer typing.Close()
		router.SetTypingController(typing)

		// Print incoming messages for the open conversation. Registered
		// after the router, so the cache is already reconciled.
		rt.OnEvent(func(env chirp.Envelope) {
			if env.Type != chirp.EventMessage {
				return
			}
			var m chirp.Message
			if err := json.Unmarshal(env.Payload, &m); err != nil {
				return
			}
			if m.ConversationID == conv.ID && m.SenderID != cfg.Auth.UserID {
				printMessage(&m, cfg.Auth.UserID, username)
			}
		})
		rt.OnDisconnected(func(reason string) {
			fmt.Fprintf(os.Stderr, "(channel lost: %s)\n", reason)
		})
		rt.OnConnected(func() {
			fmt.Fprintln(os.Stderr, "(channel connected)")
		})

		if err := rt.Connect(ctx); err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		defer rt.Disconnect()

		// Surface the peer's typing indicator as it flips.
		go func() {
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			wasTyping := false
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					now := typing.RemoteTyping()
					if now && !wasTyping {
						fmt.Fprintf(os.Stderr, "(@%s is typing...)\n", username)
					}
					wasTyping = now
				}
			}
		}()

		fmt.Printf("Chatting with @%s. Type a message and press Enter.\n", username)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			typing.DraftChanged(text)
			sendCtx, sendCancel := context.WithTimeout(ctx, 15*time.Second)
			_, err := inbox.Send(sendCtx, conv.ID, text)
			sendCancel()
			typing.DraftChanged("")
			if err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
		return scanner.Err()
	},
}
