package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"lingsync/internal/anki"
	"lingsync/internal/apply"
	"lingsync/internal/checkpoint"
	"lingsync/internal/config"
	"lingsync/internal/diff"
	"lingsync/internal/lingq"
	"lingsync/internal/logging"
	"lingsync/internal/model"
	"lingsync/internal/options"
	"lingsync/internal/plan"
	"lingsync/internal/ui"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Compute and optionally apply a sync plan",
		UsageText: "lingsync sync --profile <name> [options]",
		Description: `Compare the LingQ cards and Anki notes of a profile and compute a
   sync plan. By default the plan is only printed (dry run); pass --apply
   to execute it.

   Examples:
     lingsync sync --profile spanish
     lingsync sync --profile spanish --ambiguous-match SKIP --apply`,
		Flags: append(policyFlags(),
			&cli.StringFlag{
				Name:     "profile",
				Aliases:  []string{"p"},
				Usage:    "Profile name from the config file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "apply",
				Usage: "Execute the plan instead of just printing it",
			},
			&cli.StringFlag{
				Name:  "anki-connect",
				Usage: "AnkiConnect endpoint",
				Value: anki.DefaultConnectURL,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			profile, opts, err := loadProfileAndOptions(cmd)
			if err != nil {
				return err
			}

			doApply := cmd.Bool("apply")
			if doApply {
				var problems []string
				if opts == nil {
					problems = options.Default().Validate()
				} else {
					problems = opts.Validate()
				}
				if len(problems) > 0 {
					for _, msg := range problems {
						fmt.Println(ui.StatusError(msg))
					}
					return fmt.Errorf("resolve the run options before applying")
				}
			}

			collection := anki.NewConnectClient(anki.WithConnectURL(cmd.String("anki-connect")))
			client := lingq.NewClient(profile.APIToken)

			p, err := computePlan(ctx, profile, opts, client, collection)
			if err != nil {
				return err
			}

			printPlanSummary(p)

			if !doApply {
				fmt.Println(ui.Dim("Dry run; pass --apply to execute."))
				return nil
			}

			return runApply(ctx, p, client, collection)
		},
	}
}

// policyFlags returns the flags shared by sync and export.
func policyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "options",
			Usage: "Path to a TOML run-options file",
		},
		&cli.StringFlag{
			Name:  "ambiguous-match",
			Usage: "Policy for ambiguous matches (ASK, SKIP, CONSERVATIVE_SKIP, AGGRESSIVE_LINK_FIRST)",
		},
		&cli.StringFlag{
			Name:  "translation-aggregation",
			Usage: "Policy for multi-translation notes (ASK, SKIP, MIN, MAX, AVG)",
		},
		&cli.StringFlag{
			Name:  "scheduling-writes",
			Usage: "Scheduling write policy (INHERIT_PROFILE, FORCE_ON, FORCE_OFF)",
		},
		&cli.StringFlag{
			Name:  "progress-authority",
			Usage: "Progress authority (AUTOMATIC, PREFER_ANKI, PREFER_LINGQ)",
		},
	}
}

func loadProfileAndOptions(cmd *cli.Command) (config.Profile, *options.RunOptions, error) {
	path, err := configPath(cmd)
	if err != nil {
		return config.Profile{}, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Profile{}, nil, err
	}
	profile, err := cfg.Profile(cmd.String("profile"))
	if err != nil {
		return config.Profile{}, nil, err
	}
	if problems := profile.Validate(); len(problems) > 0 {
		return config.Profile{}, nil, fmt.Errorf("profile %q: %s", profile.Name, strings.Join(problems, "; "))
	}

	opts, err := runOptions(cmd)
	if err != nil {
		return config.Profile{}, nil, err
	}
	return profile, opts, nil
}

// runOptions merges the options file with flag overrides. With neither
// present it returns nil, which leaves every policy decision to the
// diff engine's conflict path.
func runOptions(cmd *cli.Command) (*options.RunOptions, error) {
	opts := options.Default()
	loaded := false

	if path := cmd.String("options"); path != "" {
		fileOpts, err := options.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load run options: %w", err)
		}
		opts = fileOpts
		loaded = true
	}

	if v := cmd.String("ambiguous-match"); v != "" {
		p := options.AmbiguousMatchPolicy(strings.ToUpper(v))
		if !p.IsValid() {
			return nil, fmt.Errorf("invalid ambiguous-match policy %q", v)
		}
		opts.AmbiguousMatch = p
		loaded = true
	}
	if v := cmd.String("translation-aggregation"); v != "" {
		p := options.TranslationAggregationPolicy(strings.ToUpper(v))
		if !p.IsValid() {
			return nil, fmt.Errorf("invalid translation-aggregation policy %q", v)
		}
		opts.TranslationAggregation = p
		loaded = true
	}
	if v := cmd.String("scheduling-writes"); v != "" {
		p := options.SchedulingWritePolicy(strings.ToUpper(v))
		if !p.IsValid() {
			return nil, fmt.Errorf("invalid scheduling-writes policy %q", v)
		}
		opts.SchedulingWrite = p
		loaded = true
	}
	if v := cmd.String("progress-authority"); v != "" {
		a := options.ProgressAuthority(strings.ToUpper(v))
		if !a.IsValid() {
			return nil, fmt.Errorf("invalid progress-authority %q", v)
		}
		opts.ProgressAuthority = a
		loaded = true
	}

	if !loaded {
		return nil, nil
	}
	return &opts, nil
}

func computePlan(ctx context.Context, profile config.Profile, opts *options.RunOptions, client *lingq.Client, collection anki.Collection) (*plan.Plan, error) {
	logging.Info("fetching lingq cards", logging.Language(profile.LingqLanguage))
	cards, err := client.ListCards(ctx, profile.LingqLanguage, lingq.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("fetch LingQ cards: %w", err)
	}

	logging.Info("fetching anki notes")
	notes, err := loadNotes(ctx, collection, profile.LingqToAnki.NoteType)
	if err != nil {
		return nil, fmt.Errorf("fetch Anki notes: %w", err)
	}

	return diff.New(profile, opts).Compute(notes, cards), nil
}

// loadNotes snapshots every note of the configured note type together
// with its scheduling records.
func loadNotes(ctx context.Context, collection anki.Collection, noteType string) ([]model.Note, error) {
	query := fmt.Sprintf("%q", "note:"+noteType)
	ids, err := collection.FindNotes(ctx, query)
	if err != nil {
		return nil, err
	}

	notes := make([]model.Note, 0, len(ids))
	for _, id := range ids {
		fields, err := collection.NoteFields(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", id, err)
		}
		records, err := collection.NoteCards(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("cards of note %d: %w", id, err)
		}
		notes = append(notes, model.Note{ID: id, Fields: fields, Cards: records})
	}
	return notes, nil
}

func printPlanSummary(p *plan.Plan) {
	fmt.Println(ui.Header(fmt.Sprintf("Sync plan for %s", p.ProfileName)))

	counts := p.CountByType()
	for _, opType := range []plan.OpType{
		plan.OpLink, plan.OpCreateLingq, plan.OpCreateAnki,
		plan.OpUpdateHints, plan.OpUpdateStatus, plan.OpRescheduleAnki,
		plan.OpConflict, plan.OpSkip,
	} {
		if n := counts[opType]; n > 0 {
			fmt.Printf("  %s: %d\n", ui.OpLabel(opType), n)
		}
	}
	if len(p.Operations) == 0 {
		fmt.Println(ui.StatusSuccess("nothing to do"))
	}

	if conflicts := p.Conflicts(); len(conflicts) > 0 {
		fmt.Println()
		fmt.Println(ui.Header("Conflicts"))
		for _, op := range conflicts {
			d, ok := op.Details.(plan.ConflictDetails)
			if !ok {
				continue
			}
			fmt.Println("  " + ui.StatusConflict(fmt.Sprintf("%s %q: %s", d.Type, op.Term, d.RecommendedAction)))
		}
	}
}

func runApply(ctx context.Context, p *plan.Plan, client *lingq.Client, collection *anki.ConnectClient) error {
	bar := ui.SimpleBar(int64(len(p.Operations)), "Applying")

	engine := apply.NewEngine(client, collection,
		apply.WithSchemaProvider(collection),
		apply.WithCheckpointStore(checkpoint.NewStore(".")),
		apply.WithProgress(func(done, total int, op plan.Operation) {
			_ = bar.Set(done)
		}),
	)

	result, err := engine.Run(ctx, p)
	_ = bar.Finish()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(ui.StatusSuccess(fmt.Sprintf("%d succeeded", result.SuccessCount)))
	fmt.Println(ui.StatusSkipped(fmt.Sprintf("%d skipped", result.SkippedCount)))
	if result.ErrorCount > 0 {
		fmt.Println(ui.StatusError(fmt.Sprintf("%d failed", result.ErrorCount)))
		for _, msg := range result.Errors {
			fmt.Fprintln(os.Stderr, "  "+msg)
		}
		return fmt.Errorf("%d operation(s) failed", result.ErrorCount)
	}
	return nil
}
