package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/chat"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const chatHelp = `Commands:
  /remember [context]  remember your last message
  /forget <id>         forget a remembered item
  /memories            list remembered items
  /context             show the context used for the last answer
  /exit                quit`

func chatCommand() *cli.Command {
	var (
		cfg         config
		historyFile string
	)
	rt := newRuntime(&cfg)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "File to keep readline history in",
			Sources:     cli.EnvVars("MNEMO_HISTORY_FILE"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, rt.flags()...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat that remembers what you ask it to",
		Flags: flags,
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			responder, err := cfg.newResponder(ctx)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			rt.watchSnapshot(ctx)

			if historyFile == "" {
				if home, err := os.UserHomeDir(); err == nil {
					historyFile = filepath.Join(home, ".mnemo_history")
				}
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			session := chat.New(rt.orch, responder)
			var last *model.EnhancedPrompt

			fmt.Fprintf(w, "Chat session started. Type /help for commands, /exit to quit.\n")
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}

				if strings.HasPrefix(line, "/") {
					done := runChatCommand(ctx, w, rt, session, last, line)
					if done {
						break
					}
					continue
				}

				s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				s.Suffix = " thinking..."
				s.Start()
				reply, err := session.Send(ctx, line)
				s.Stop()

				if err != nil {
					if model.IsRetryable(err) {
						fmt.Fprintf(w, "The assistant is busy, try again in a moment.\n")
					} else {
						fmt.Fprintf(w, "Error: %s\n", err.Error())
					}
					logging.From(ctx).Debug("chat turn failed", "error", err)
					continue
				}

				last = reply.Prompt
				fmt.Fprintf(w, "%s\n", reply.Text)
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		}),
	}
}

// runChatCommand handles a slash command and reports whether the session should end
func runChatCommand(ctx context.Context, w io.Writer, rt *runtime, session *chat.Session, last *model.EnhancedPrompt, line string) bool {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "exit", "quit":
		return true

	case "help":
		fmt.Fprintln(w, chatHelp)

	case "remember":
		mem, err := session.Remember(ctx, arg)
		if err != nil {
			fmt.Fprintf(w, "Error: %s\n", err.Error())
			return false
		}
		fmt.Fprintf(w, "Remembered %s: %s\n", mem.ID, mem.Content)

	case "forget":
		if arg == "" {
			fmt.Fprintf(w, "Usage: /forget <id>\n")
			return false
		}
		if err := rt.store.ForgetMemory(ctx, model.MemoryID(arg)); err != nil {
			fmt.Fprintf(w, "Error: %s\n", err.Error())
			return false
		}
		fmt.Fprintf(w, "Forgot %s\n", arg)

	case "memories":
		printMemories(w, rt.store.GetMarkedMemories(ctx))

	case "context":
		if last == nil {
			fmt.Fprintf(w, "No answer yet\n")
			return false
		}
		printScores(w, last)

	default:
		fmt.Fprintf(w, "Unknown command: /%s\n%s\n", name, chatHelp)
	}
	return false
}
