package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <token>",
		Short: "Cancel a queued or running submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			client := newAPIClient(baseURL)
			if err := client.cancelSubmission(args[0]); err != nil {
				return err
			}
			fmt.Printf("cancelled %s\n", args[0])
			return nil
		},
	}
	return cmd
}
