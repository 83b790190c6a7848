package cli

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var cfg config
	rt := newRuntime(&cfg)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the memory and context API as MCP tools over stdio",
		Flags: rt.flags(),
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			rt.watchSnapshot(ctx)

			return mcp.NewServer(rt.orch, mcp.WithVersion(c.Root().Version)).Run(ctx)
		}),
	}
}
