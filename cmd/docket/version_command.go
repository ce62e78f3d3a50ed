package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the release workflow; the default covers source builds.
var version = "0.1.0"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the docket version",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docket %s\n", version)
		},
	}
}
