package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var forceCleanup bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale scratch directories",
	Long: `Remove regexoor-* scratch directories left behind when a run was
killed before its per-job cleanup could happen.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVarP(&forceCleanup, "force", "f", false,
		"Skip confirmation prompt")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	// Config is optional here; without it the default temp location is
	// scanned.
	scratchDir := os.TempDir()

	if cfgFile != "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if cfg.Global.ScratchDir != "" {
			scratchDir = cfg.Global.ScratchDir
		}
	}

	matches, err := filepath.Glob(filepath.Join(scratchDir, "regexoor-*"))
	if err != nil {
		return fmt.Errorf("scanning %s: %w", scratchDir, err)
	}

	dirs := make([]string, 0, len(matches))

	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}

		dirs = append(dirs, m)
	}

	if len(dirs) == 0 {
		log.Info("No stale scratch directories found")

		return nil
	}

	fmt.Printf("\nScratch directories to be removed (%d):\n", len(dirs))

	for _, dir := range dirs {
		fmt.Printf("  - %s\n", dir)
	}

	fmt.Println()

	// Prompt for confirmation if not forced.
	if !forceCleanup {
		fmt.Print("Are you sure you want to remove these directories? [y/N] ")

		reader := bufio.NewReader(os.Stdin)

		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			log.Info("Cleanup cancelled")

			return nil
		}
	}

	for _, dir := range dirs {
		log.WithField("dir", dir).Info("Removing scratch directory")

		if err := os.RemoveAll(dir); err != nil {
			log.WithError(err).WithField("dir", dir).
				Warn("Failed to remove scratch directory")
		}
	}

	log.Info("Cleanup completed")

	return nil
}
