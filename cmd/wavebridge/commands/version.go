package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, styles.Title.Render("wavebridge"))
		printField(out, "version", Version)
		printField(out, "go", runtime.Version())
		printField(out, "platform", runtime.GOOS+"/"+runtime.GOARCH)
	},
}
