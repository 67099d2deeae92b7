package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/regexoor/regexoor/pkg/store"
	"github.com/regexoor/regexoor/pkg/sysprofile"
)

var (
	profileSkipBaseline bool
	profileSave         bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Collect and print the system profile",
	Long: `Collect the host fingerprint that benchmark runs are grouped by and
print it as JSON. With --save the profile is also written to the database.`,
	RunE: runProfile,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().BoolVar(&profileSkipBaseline, "skip-baseline", false,
		"skip the CPU baseline measurement")
	profileCmd.Flags().BoolVar(&profileSave, "save", false,
		"store the profile in the database")
}

func runProfile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	collector := sysprofile.NewCollector(
		log, cfg.Benchmark.CorpusDir, !profileSkipBaseline,
	)

	profile, err := collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting system profile: %w", err)
	}

	if profileSave {
		st := store.NewStore(log, &cfg.Database)
		if err := st.Start(ctx); err != nil {
			return fmt.Errorf("starting store: %w", err)
		}

		defer func() {
			if err := st.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop store")
			}
		}()

		if err := st.GetOrCreateProfile(ctx, profile); err != nil {
			return fmt.Errorf("storing system profile: %w", err)
		}

		log.WithField("profile", profile.ProfileID).Info("Profile stored")
	}

	return printJSON(profile)
}
