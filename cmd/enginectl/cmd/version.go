package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version information for the enginectl CLI.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("enginectl v1.0.0")
			fmt.Println("Compatible with engine API v1")
			fmt.Println("Built with Go and Cobra")
		},
	}
	return cmd
}
