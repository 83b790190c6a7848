package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func exportCommand() *cli.Command {
	var (
		cfg    config
		output string
		bucket string
		key    string
	)
	rt := newRuntime(&cfg)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "File to write the export to (stdout when empty)",
			Destination: &output,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket to upload the export to",
			Sources:     cli.EnvVars("MNEMO_EXPORT_BUCKET"),
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "key",
			Usage:       "Object key of the upload (generated from the export time when empty)",
			Destination: &key,
		},
	}
	flags = append(flags, rt.flags()...)

	return &cli.Command{
		Name:  "export",
		Usage: "Export the conversation, memories and vectors as JSON",
		Flags: flags,
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			rt.index.Wait()
			data, err := rt.store.ExportAllData(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to export data")
			}

			raw, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to marshal export")
			}

			if bucket != "" {
				storage, err := cfg.newStorage(ctx, bucket)
				if err != nil {
					return err
				}
				defer storage.Close()

				if key == "" {
					key = fmt.Sprintf("mnemo/export-%s.json", data.ExportedAt.UTC().Format("20060102T150405Z"))
				}
				if err := storage.Upload(ctx, key, "application/json", bytes.NewReader(raw)); err != nil {
					return err
				}
				logging.From(ctx).Info("export uploaded", "bucket", bucket, "key", key,
					"messages", len(data.Messages), "memories", len(data.Memories))
				return nil
			}

			if output != "" {
				if err := os.WriteFile(output, raw, 0600); err != nil {
					return goerr.Wrap(err, "failed to write export", goerr.V("path", output))
				}
				return nil
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", raw)
			return nil
		}),
	}
}

func clearCommand() *cli.Command {
	var (
		cfg   config
		force bool
	)
	rt := newRuntime(&cfg)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "force",
			Aliases:     []string{"f"},
			Usage:       "Confirm deleting every message, memory and vector",
			Destination: &force,
		},
	}
	flags = append(flags, rt.flags()...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Delete all stored data",
		Flags: flags,
		Action: withRuntime(&cfg, rt, func(ctx context.Context, c *cli.Command) error {
			if !force {
				return goerr.New("clear deletes all data, add --force to confirm")
			}
			if err := rt.store.ClearAllData(ctx); err != nil {
				return goerr.Wrap(err, "failed to clear data")
			}
			fmt.Fprintf(c.Root().Writer, "All data cleared\n")
			return nil
		}),
	}
}
