package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"lingsync/internal/checkpoint"
	"lingsync/internal/ui"
)

func checkpointCommand() *cli.Command {
	profileFlag := &cli.StringFlag{
		Name:     "profile",
		Aliases:  []string{"p"},
		Usage:    "Profile name the checkpoint belongs to",
		Required: true,
	}

	return &cli.Command{
		Name:  "checkpoint",
		Usage: "Inspect or clear apply-run checkpoints",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the saved checkpoint for a profile",
				Flags: []cli.Flag{profileFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					profile := cmd.String("profile")
					store := checkpoint.NewStore(".")
					cp, err := store.Load(profile)
					if err != nil {
						return err
					}
					if cp == nil {
						fmt.Println(ui.Dim(fmt.Sprintf("no checkpoint for profile %q", profile)))
						return nil
					}
					fmt.Println(ui.Header(fmt.Sprintf("Checkpoint for %s", profile)))
					fmt.Printf("  %s %s\n", ui.Bold("run:"), cp.RunID)
					fmt.Printf("  %s %d\n", ui.Bold("completed operations:"), len(cp.CompletedOps))
					fmt.Printf("  %s %d\n", ui.Bold("last processed index:"), cp.LastProcessedIndex)
					fmt.Printf("  %s %s\n", ui.Bold("file:"), store.Path(profile))
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Delete the saved checkpoint for a profile",
				Flags: []cli.Flag{profileFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					profile := cmd.String("profile")
					store := checkpoint.NewStore(".")
					if err := store.Clear(profile); err != nil {
						return err
					}
					fmt.Println(ui.StatusSuccess(fmt.Sprintf("cleared checkpoint for profile %q", profile)))
					return nil
				},
			},
		},
	}
}
