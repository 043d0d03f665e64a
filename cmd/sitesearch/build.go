package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var buildForce bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Fetch the corpus and build indexes into storage",
	Long: `Fetch the corpus, compare its fingerprint with the stored one and build
fresh indexes when it changed. Use --force to rebuild regardless.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "rebuild even if the corpus is unchanged")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := openApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if buildForce {
		if _, err := a.svc.Rebuild(ctx, true); err != nil {
			return fmt.Errorf("build failed: %w", err)
		}
	}

	data, err := json.MarshalIndent(a.svc.Status(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
