package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// VersionCmd returns the version command.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the grantbot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("grantbotd " + Version)
		},
	}
}
