// radcoachctl administers learner access codes without going through the
// HTTP surface. It opens the same database the gateway uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/radcoach/radcoach/internal/auth"
	"github.com/radcoach/radcoach/internal/config"
	"github.com/radcoach/radcoach/internal/db"
	"github.com/radcoach/radcoach/internal/ledger"
)

func main() {
	root := &cobra.Command{
		Use:           "radcoachctl",
		Short:         "administer learner access codes and exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(genCodesCmd(), listCodesCmd(), exportCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (ledger.Store, func(), error) {
	cfg := config.FromEnv()
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewSQLStore(dbh, cfg.DBDriver), func() { _ = dbh.Close() }, nil
}

func genCodesCmd() *cobra.Command {
	var count int
	var localizeMode, reportMode string
	cmd := &cobra.Command{
		Use:   "gen-codes",
		Short: "generate learner access codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if localizeMode != ledger.ModeActive && localizeMode != ledger.ModePassive {
				return fmt.Errorf("invalid localize mode %q", localizeMode)
			}
			if reportMode != ledger.ModeActive && reportMode != ledger.ModePassive {
				return fmt.Errorf("invalid report mode %q", reportMode)
			}
			ctx := cmd.Context()
			store, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			for i := 0; i < count; i++ {
				p := ledger.Progress{
					LearnerID:    auth.NewAccessCode(),
					Status:       "enabled",
					CreatedAt:    time.Now().UnixMilli(),
					LocalizeMode: localizeMode,
					ReportMode:   reportMode,
				}
				if err := store.CreateLearner(ctx, p); err != nil {
					return fmt.Errorf("create %s: %w", p.LearnerID, err)
				}
				fmt.Println(p.LearnerID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of codes to generate")
	cmd.Flags().StringVar(&localizeMode, "localize-mode", ledger.ModeActive, "active or passive")
	cmd.Flags().StringVar(&reportMode, "report-mode", ledger.ModeActive, "active or passive")
	return cmd
}

func listCodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-codes",
		Short: "list access codes with progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			learners, err := store.ListLearners(ctx)
			if err != nil {
				return err
			}
			for _, p := range learners {
				fmt.Printf("%s\t%s\tlocalize=%s/%d\treport=%s/%d\n",
					p.LearnerID, p.Status,
					p.LocalizeMode, p.LocalizeCompleted,
					p.ReportMode, p.ReportCompleted)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <code>",
		Short: "dump a learner's submissions as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			code := args[0]
			p, err := store.GetLearner(ctx, code)
			if err != nil {
				return err
			}
			var subs []ledger.Submission
			for _, m := range []ledger.Modality{ledger.ModalityLocalize, ledger.ModalityReport} {
				rows, err := store.ListSubmissions(ctx, code, m)
				if err != nil {
					return err
				}
				subs = append(subs, rows...)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"learner":     p,
				"submissions": subs,
			})
		},
	}
}
