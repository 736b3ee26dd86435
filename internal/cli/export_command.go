package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"lingsync/internal/anki"
	"lingsync/internal/export"
	"lingsync/internal/lingq"
	"lingsync/internal/ui"
)

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Compute a sync plan and write it to a file or stdout",
		UsageText: "lingsync export --profile <name> [--format json|yaml|markdown] [--output <path>]",
		Flags: append(policyFlags(),
			&cli.StringFlag{
				Name:     "profile",
				Aliases:  []string{"p"},
				Usage:    "Profile name from the config file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Export format (json, yaml, markdown)",
				Value:   string(export.FormatJSON),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output path (default stdout)",
			},
			&cli.BoolFlag{
				Name:  "compact",
				Usage: "Disable pretty-printing for JSON output",
			},
			&cli.StringFlag{
				Name:  "anki-connect",
				Usage: "AnkiConnect endpoint",
				Value: anki.DefaultConnectURL,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := export.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}

			profile, opts, err := loadProfileAndOptions(cmd)
			if err != nil {
				return err
			}

			collection := anki.NewConnectClient(anki.WithConnectURL(cmd.String("anki-connect")))
			client := lingq.NewClient(profile.APIToken)

			p, err := computePlan(ctx, profile, opts, client, collection)
			if err != nil {
				return err
			}

			out := os.Stdout
			if path := cmd.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			exporter := export.New(export.Options{
				Format: format,
				Pretty: !cmd.Bool("compact"),
			})
			if err := exporter.ExportPlan(p, out); err != nil {
				return err
			}

			if path := cmd.String("output"); path != "" {
				fmt.Println(ui.StatusSuccess(fmt.Sprintf("wrote %d operation(s) to %s", len(p.Operations), path)))
			}
			return nil
		},
	}
}
