package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/docchat/internal/app"
	"github.com/user/docchat/internal/query"
	"github.com/user/docchat/internal/render"
	"github.com/user/docchat/internal/types"
)

func init() {
	rootCmd.AddCommand(askCmd, chatCmd)

	askCmd.Flags().String("doc", types.NoneSelection, "document id to ask about, or none")
	chatCmd.Flags().String("doc", types.NoneSelection, "document id to start with, or none")
}

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Ask one question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, _ := cmd.Flags().GetString("doc")

		a, err := newApp(loadConfig(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()
		msg, err := a.Ask(ctx, doc, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(render.Text(msg.Content))
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat about your processed documents",
	Long: `Interactive chat. Commands:
  /docs        list processed documents
  /use <id>    ask about one document (/use none for no document)
  /quit        exit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		selection, _ := cmd.Flags().GetString("doc")

		a, err := newApp(loadConfig(), app.Options{IncludeRemote: true})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Router.Ready(); err != nil {
			return fmt.Errorf("chat: %w", err)
		}

		ctx, cancel := signalContext()
		defer cancel()
		if err := a.Start(ctx); err != nil {
			return err
		}

		fmt.Println("Type a question, /docs, /use <id> or /quit.")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Printf("[%s] > ", selection)
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())

			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return nil
			case line == "/docs":
				printChoices(query.Choices(a.Store.Completed()), selection)
				continue
			case strings.HasPrefix(line, "/use"):
				id := strings.TrimSpace(strings.TrimPrefix(line, "/use"))
				if id == "" {
					id = types.NoneSelection
				}
				choices := query.Choices(a.Store.Completed())
				if !slices.ContainsFunc(choices, func(c query.Choice) bool { return c.Value == id }) {
					fmt.Printf("Unknown or unfinished document %q. Try /docs.\n", id)
					continue
				}
				selection = id
				continue
			}

			msg, err := a.Ask(ctx, selection, line)
			if err != nil {
				if errors.Is(err, ctx.Err()) {
					return nil
				}
				fmt.Fprintln(os.Stderr, "Error:", err)
				continue
			}
			fmt.Println(render.Message(msg))
		}
	},
}

func printChoices(choices []query.Choice, selected string) {
	for _, c := range choices {
		marker := " "
		if c.Value == selected {
			marker = "*"
		}
		fmt.Printf("%s %-38s %s\n", marker, c.Value, c.Label)
	}
}
