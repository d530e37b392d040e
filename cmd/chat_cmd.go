package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/graphiti-browser/internal/app"
	"github.com/nextlevelbuilder/graphiti-browser/internal/chat"
)

func chatCmd() *cobra.Command {
	var (
		message  string
		noStream bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the memory agent interactively or send a one-shot message",
		Long: `Chat with the agent backed by the knowledge graph. The conversation is kept
per group and restored on the next run.

Examples:
  graphiti-browser chat                      # Interactive REPL
  graphiti-browser chat -m "Who is Bob?"     # One-shot message
  graphiti-browser chat -g work --no-stream  # Another group, no streaming`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(message, !noStream)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full reply instead of streaming")
	return cmd
}

func runChat(message string, stream bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Chat.Stream = cfg.Chat.Stream && stream

	var printed atomic.Bool
	a, err := openAppWith(ctx, cfg, app.WithChunkHandler(func(chunk string) {
		printed.Store(true)
		fmt.Print(chunk)
	}))
	if err != nil {
		return err
	}
	defer a.Close()

	send := func(text string) error {
		printed.Store(false)
		msg, err := a.Turns.SendMessage(ctx, text)
		if err != nil {
			if printed.Load() {
				fmt.Println()
			}
			return err
		}
		if printed.Load() {
			fmt.Println()
		} else {
			fmt.Println(msg.Content)
		}
		printMemories(msg)
		return nil
	}

	if message != "" {
		return send(message)
	}

	fmt.Fprintf(os.Stderr, "\nGraphiti Chat (group: %s, %d messages in history)\n", cfg.GroupID, len(a.Chat.Messages()))
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/clear\" to start over\n\n")
	return chatREPL(ctx, a, send)
}

func chatREPL(ctx context.Context, a *app.App, send func(string) error) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return nil
		}
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return nil
		case "/clear":
			a.Chat.Clear()
			fmt.Fprintln(os.Stderr, "History cleared.")
			continue
		}

		fmt.Println()
		if err := send(input); err != nil {
			if errors.Is(err, chat.ErrTurnInFlight) {
				fmt.Fprintln(os.Stderr, "A reply is still being generated.")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %s\n", chat.DescribeError(err))
			}
		}
		fmt.Println()
	}
}

func printMemories(msg chat.Message) {
	if len(msg.MemoryFacts) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "  [%d memories]\n", len(msg.MemoryFacts))
	for _, f := range msg.MemoryFacts {
		fmt.Fprintf(os.Stderr, "   · %s\n", truncate(f.Fact, 80))
	}
	if calls := msg.Trace.ToolCalls(); len(calls) > 0 {
		names := make([]string, 0, len(calls))
		for _, c := range calls {
			names = append(names, c.Name)
		}
		fmt.Fprintf(os.Stderr, "  [tools] %s\n", strings.Join(names, ", "))
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the stored chat history",
	}
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyClearCmd())
	return cmd
}

func historyShowCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the conversation for the current group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			msgs := a.Chat.Messages()
			if jsonOutput {
				return printJSON(msgs)
			}
			if len(msgs) == 0 {
				fmt.Println("No messages.")
				return nil
			}
			for _, m := range msgs {
				fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("01-02 15:04"), m.Role, truncate(m.Content, 100))
			}
			fmt.Printf("\n%d messages, ~%d tokens\n", len(msgs), a.Chat.TotalTokens())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func historyClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the conversation for the current group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && interactive() {
				ok, err := promptConfirm("Delete the stored conversation?", false)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			a.Chat.Clear()
			fmt.Printf("Cleared history for group %s\n", a.Config.GroupID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
