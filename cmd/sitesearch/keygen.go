package main

import (
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/auth/apikey"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an admin API key",
	Long: `Print a new random admin key. Add it to server.adminKeys (or SS_ADMIN_KEYS)
to allow rebuild and cache invalidation requests that present it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := apikey.GenerateKey()
		if err != nil {
			return err
		}
		cmd.Println(key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
