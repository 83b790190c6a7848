package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/usecase/chat"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg        config
		showPrompt bool
	)
	rt := newRuntime(&cfg)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "show-prompt",
			Usage:       "Print the assembled system prompt before the answer",
			Destination: &showPrompt,
		},
	}
	flags = append(flags, rt.flags()...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer one question with relevant context and memories",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			question := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(question) == "" {
				return goerr.New("question is required")
			}

			responder, err := cfg.newResponder(ctx)
			if err != nil {
				return err
			}

			session := chat.New(rt.orch, responder)
			reply, err := session.Send(ctx, question)
			if err != nil {
				return goerr.Wrap(err, "failed to answer question")
			}

			w := c.Root().Writer
			if showPrompt {
				fmt.Fprintf(w, "%s\n\n---\n\n", reply.Prompt.Prompt)
			}
			fmt.Fprintf(w, "%s\n", reply.Text)
			return nil
		}),
	}
}
