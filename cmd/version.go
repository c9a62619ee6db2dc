package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print teesched build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "teesched %s (commit=%s, built=%s, %s %s/%s)\n",
				Version, CommitSHA, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
