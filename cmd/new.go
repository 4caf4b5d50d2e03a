// File: cmd/new.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/afterburner/internal/observability"
	"github.com/xkilldash9x/afterburner/internal/scaffold"
)

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <appName>",
		Short: "Create a new afterburner app in the current directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name = args[0]
			}
			_, err := scaffold.Create(".", name, observability.GetLogger())
			return err
		},
	}
}
