// File: cmd/version.go
package cmd

import "github.com/spf13/cobra"

// Version is the application version.
// Set at build time: go build -ldflags "-X github.com/xkilldash9x/afterburner/cmd.Version=1.0.0"
var Version = "1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the afterburner version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(Version)
		},
	}
}
