package cmd

import (
	"github.com/spf13/cobra"
)

func NewGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <token>",
		Short: "Fetch a submission's current status and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			verbose, _ := cmd.Flags().GetBool("verbose")

			client := newAPIClient(baseURL)
			result, err := client.getSubmission(args[0])
			if err != nil {
				return err
			}
			return printSubmissionResult(result, verbose)
		},
	}
	return cmd
}
