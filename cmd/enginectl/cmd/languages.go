package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewLanguagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "languages",
		Aliases: []string{"ls", "langs"},
		Short:   "List the engine's supported languages",
		Long: `List all languages the engine can execute.

Examples:
  # List all supported languages
  enginectl languages

  # Show verbose output with aliases and compiled/interpreted status
  enginectl languages -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			verbose, _ := cmd.Flags().GetBool("verbose")

			client := newAPIClient(baseURL)
			langs, err := client.listLanguages()
			if err != nil {
				return err
			}
			return printLanguageList(langs, verbose)
		},
	}
	return cmd
}

func printLanguageList(langs []languageInfo, verbose bool) error {
	if len(langs) == 0 {
		fmt.Println("No languages available")
		return nil
	}

	sort.Slice(langs, func(i, j int) bool { return langs[i].Key < langs[j].Key })

	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	if !verbose {
		for _, l := range langs {
			bold.Printf("%-15s", l.Key+":")
			kind := "interpreted"
			if l.Compiled {
				kind = "compiled"
			}
			cyan.Printf(" %s\n", kind)
		}
		fmt.Printf("\nTotal: %d languages\n", len(langs))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tALIASES\tKIND")
	fmt.Fprintln(w, "---\t-------\t----")
	for _, l := range langs {
		kind := "interpreted"
		if l.Compiled {
			kind = "compiled"
		}
		aliases := strings.Join(l.Aliases, ", ")
		if aliases == "" {
			aliases = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.Key, aliases, kind)
	}
	return w.Flush()
}
