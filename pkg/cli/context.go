package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/app"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/urfave/cli/v3"
)

func queryArg(c *cli.Command) (string, error) {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return "", goerr.New("query is required")
	}
	return query, nil
}

func contextCommand() *cli.Command {
	var (
		cfg        config
		basePrompt string
		outputJSON bool
	)
	rt := newRuntime(&cfg)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "base",
			Usage:       "Base prompt to enhance instead of assembling the full prompt",
			Destination: &basePrompt,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Output the enhanced prompt with scores as JSON",
			Destination: &outputJSON,
		},
	}
	flags = append(flags, rt.flags()...)

	return &cli.Command{
		Name:      "context",
		Usage:     "Show the prompt and context that would be used for a query",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			query, err := queryArg(c)
			if err != nil {
				return err
			}

			var prompt *model.EnhancedPrompt
			if basePrompt != "" {
				prompt = rt.orch.BuildEnhancedPrompt(ctx, basePrompt, query, nil, nil)
			} else if prompt, err = rt.orch.Process(ctx, query, nil); err != nil {
				return err
			}

			w := c.Root().Writer
			if outputJSON {
				return printJSON(w, prompt)
			}
			fmt.Fprintf(w, "%s\n\n---\n", prompt.Prompt)
			printScores(w, prompt)
			return nil
		}),
	}
}

func preprocessCommand() *cli.Command {
	var cfg config
	rt := newRuntime(&cfg)

	return &cli.Command{
		Name:      "preprocess",
		Usage:     "Normalize a query, fix spelling and list synonym expansions",
		ArgsUsage: "<query>",
		Flags:     rt.flags(),
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			query, err := queryArg(c)
			if err != nil {
				return err
			}
			return printJSON(c.Root().Writer, rt.orch.Preprocess(query))
		}),
	}
}

func appsCommand() *cli.Command {
	var cfg config
	rt := newRuntime(&cfg)

	return &cli.Command{
		Name:      "apps",
		Usage:     "List dashboard apps and how confident each is about a query",
		ArgsUsage: "[query]",
		Flags:     rt.flags(),
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				for _, name := range rt.registry.Names() {
					fmt.Fprintf(w, "%s\n", name)
				}
				return nil
			}

			for _, a := range rt.registry.AppsWithConfidence(ctx, query) {
				fmt.Fprintf(w, "%s\t%.2f\n", a.App, a.Confidence)
			}

			name, answer, err := rt.registry.Respond(ctx, query)
			if errors.Is(err, app.ErrNoApp) {
				fmt.Fprintf(w, "\nNo app can answer\n")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\n%s: %s\n", name, answer)
			return nil
		}),
	}
}
