package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/urfave/cli/v3"
)

func rememberCommand() *cli.Command {
	var (
		cfg        config
		messageID  string
		contextTag string
		tag        string
	)
	rt := newRuntime(&cfg)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "message-id",
			Aliases:     []string{"m"},
			Usage:       "ID of the message the memory is taken from (generated when empty)",
			Destination: &messageID,
		},
		&cli.StringFlag{
			Name:        "context",
			Aliases:     []string{"c"},
			Usage:       "Why the memory matters",
			Destination: &contextTag,
		},
		&cli.StringFlag{
			Name:        "tag",
			Aliases:     []string{"t"},
			Usage:       "Category tag",
			Destination: &tag,
		},
	}
	flags = append(flags, rt.flags()...)

	return &cli.Command{
		Name:      "remember",
		Usage:     "Remember a piece of text for later prompts",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			content := strings.Join(c.Args().Slice(), " ")

			var tags []string
			if tag != "" {
				tags = append(tags, tag)
			}
			mem, err := rt.orch.MarkAsImportant(ctx, model.MessageID(messageID), content, contextTag, tags...)
			if err != nil {
				return goerr.Wrap(err, "failed to remember")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", mem.ID)
			return nil
		}),
	}
}

func memoriesCommand() *cli.Command {
	var (
		cfg        config
		query      string
		limit      int64
		outputJSON bool
	)
	rt := newRuntime(&cfg)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Rank memories by similarity to a query",
			Destination: &query,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of memories shown with --query",
			Value:       5,
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Output as JSON",
			Destination: &outputJSON,
		},
	}
	flags = append(flags, rt.flags()...)

	return &cli.Command{
		Name:  "memories",
		Usage: "List remembered items",
		Flags: flags,
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer
			if query == "" {
				memories := rt.store.GetMarkedMemories(ctx)
				if outputJSON {
					return printJSON(w, memories)
				}
				printMemories(w, memories)
				return nil
			}

			// freshly loaded memories may still be embedding
			rt.index.Wait()
			scored := rt.index.Similar(ctx, query, int(limit))
			if outputJSON {
				return printJSON(w, scored)
			}
			if len(scored) == 0 {
				fmt.Fprintf(w, "No similar memories\n")
				return nil
			}
			for _, s := range scored {
				fmt.Fprintf(w, "%.3f\t%s\t%s\n", s.Score, s.Memory.ID, s.Memory.Content)
			}
			return nil
		}),
	}
}

func forgetCommand() *cli.Command {
	var cfg config
	rt := newRuntime(&cfg)

	return &cli.Command{
		Name:      "forget",
		Usage:     "Forget remembered items so they are never used again",
		ArgsUsage: "<memory-id>...",
		Flags:     rt.flags(),
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			ids := c.Args().Slice()
			if len(ids) == 0 {
				return goerr.New("memory id is required")
			}
			for _, id := range ids {
				if err := rt.store.ForgetMemory(ctx, model.MemoryID(id)); err != nil {
					return goerr.Wrap(err, "failed to forget memory", goerr.V("id", id))
				}
				fmt.Fprintf(c.Root().Writer, "Forgot %s\n", id)
			}
			return nil
		}),
	}
}

func historyCommand() *cli.Command {
	var (
		cfg     config
		limit   int64
		summary bool
	)
	rt := newRuntime(&cfg)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Number of recent messages to show",
			Value:       20,
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "summary",
			Usage:       "Show the prompt context rendered from memories and the conversation summary",
			Destination: &summary,
		},
	}
	flags = append(flags, rt.flags()...)

	return &cli.Command{
		Name:  "history",
		Usage: "Show the recent conversation",
		Flags: flags,
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer
			if summary {
				fmt.Fprintf(w, "%s\n", rt.orch.GetContextForPrompt(ctx))
				return nil
			}
			printMessages(w, rt.store.GetRecentMessages(ctx, int(limit)))
			return nil
		}),
	}
}
