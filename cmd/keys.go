package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	var dotenv bool

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate session cookie keys for the web UI (COOKIE_HASH_KEY, COOKIE_BLOCK_KEY)",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := "export "
			if dotenv {
				prefix = ""
			}
			// 32-byte HMAC key, 32-byte AES-256 key
			for _, name := range []string{"COOKIE_HASH_KEY", "COOKIE_BLOCK_KEY"} {
				key := make([]byte, 32)
				if _, err := rand.Read(key); err != nil {
					return fmt.Errorf("generate %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s=%s\n", prefix, name, base64.StdEncoding.EncodeToString(key))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dotenv, "dotenv", false, "print KEY=value lines for a .env file instead of shell exports")
	return cmd
}
