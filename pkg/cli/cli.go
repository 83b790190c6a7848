package cli

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// version is set at build time with -ldflags "-X github.com/m-mizutani/mnemo/pkg/cli.version=..."
var version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "mnemo",
		Usage:   "Semantic memory and context relevance engine for assistant prompts",
		Version: version,
		Commands: []*cli.Command{
			askCommand(),
			chatCommand(),
			contextCommand(),
			preprocessCommand(),
			rememberCommand(),
			memoriesCommand(),
			forgetCommand(),
			historyCommand(),
			appsCommand(),
			exportCommand(),
			clearCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// withRuntime wraps an action with logger setup and a wired runtime
func withRuntime(cfg *config, rt *runtime, action func(ctx context.Context, c *cli.Command) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		ctx = cfg.withLogger(ctx)
		if err := rt.open(ctx); err != nil {
			rt.Close()
			return err
		}
		defer rt.Close()
		return action(ctx, c)
	}
}
