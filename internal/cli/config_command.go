package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"lingsync/internal/config"
	"lingsync/internal/ui"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage sync profiles",
		Commands: []*cli.Command{
			configInitCommand(),
			configListCommand(),
		},
	}
}

func configPath(cmd *cli.Command) (string, error) {
	if p := cmd.String("config"); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

func configInitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create a config file with an example profile",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := config.Default()
			cfg.Profiles = []config.Profile{exampleProfile()}

			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Println(ui.StatusSuccess("wrote " + path))
			fmt.Println("Edit the example profile and add your LingQ API token before syncing.")
			return nil
		},
	}
}

func exampleProfile() config.Profile {
	return config.Profile{
		Name:          "example",
		LingqLanguage: "es",
		MeaningLocale: "en",
		LingqToAnki: config.LingqToAnkiMapping{
			NoteType: "Basic",
			DeckName: "LingQ",
			FieldMapping: map[string]string{
				"term":        "Front",
				"translation": "Back",
			},
			IdentityFields: config.DefaultIdentityFields(),
		},
		AnkiToLingq: config.AnkiToLingqMapping{
			TermField:         "Front",
			TranslationFields: []string{"Back"},
		},
	}
}

func configListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List configured profiles",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if len(cfg.Profiles) == 0 {
				fmt.Println("No profiles configured. Run 'lingsync config init' to create one.")
				return nil
			}

			fmt.Println(ui.Header("Profiles"))
			for _, p := range cfg.Profiles {
				line := fmt.Sprintf("  %s (%s, hints in %s)", ui.Bold(p.Name), p.LingqLanguage, p.MeaningLocale)
				if problems := p.Validate(); len(problems) > 0 {
					line += " " + ui.Warning(fmt.Sprintf("%d problem(s)", len(problems)))
				}
				fmt.Println(line)
				if p.APIToken == "" {
					fmt.Println(ui.Dim("    no API token set"))
				}
			}
			return nil
		},
	}
}
