package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewSubmitCommand() *cobra.Command {
	var (
		languageVersion string
		readStdin       bool
		compilerOptions string
		runArgs         string
		numberOfRuns    int
		enableNetwork   bool
		callbackURL     string
		priority        int
		wait            bool
		waitTimeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:     "submit <language> <file>",
		Aliases: []string{"run", "exec"},
		Short:   "Submit a source file for sandboxed execution",
		Long: `Submit a source file to the engine and print its token.

Examples:
  # Submit a Python script and wait for the result
  enginectl submit python script.py --wait

  # Submit with a version constraint
  enginectl submit python script.py -l "^3.10" --wait

  # Submit with stdin and command-line arguments
  enginectl submit go main.go --stdin --args "arg1 arg2" --wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			language := cmdArgs[0]
			filename := cmdArgs[1]

			source, err := os.ReadFile(filename)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", filename, err)
			}

			var stdin string
			if readStdin {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				stdin = string(b)
			}

			baseURL, _ := cmd.Flags().GetString("url")
			verbose, _ := cmd.Flags().GetBool("verbose")
			client := newAPIClient(baseURL)

			req := submissionRequest{
				LanguageKey:          language,
				LanguageVersion:      languageVersion,
				SourceCode:           string(source),
				Stdin:                stdin,
				CompilerOptions:      compilerOptions,
				CommandLineArguments: runArgs,
				NumberOfRuns:         numberOfRuns,
				EnableNetwork:        enableNetwork,
				CallbackURL:          callbackURL,
				Priority:             priority,
			}

			token, err := client.createSubmission(req)
			if err != nil {
				return err
			}

			if !wait {
				fmt.Println(token)
				return nil
			}

			if verbose {
				fmt.Fprintf(os.Stderr, "submitted %s, waiting for result...\n", token)
			}
			result, err := pollUntilTerminal(client, token, waitTimeout)
			if err != nil {
				return err
			}
			return printSubmissionResult(result, verbose)
		},
	}

	cmd.Flags().StringVarP(&languageVersion, "language-version", "l", "", "Language version constraint (default \"*\")")
	cmd.Flags().BoolVarP(&readStdin, "stdin", "i", false, "Read stdin from the terminal and attach it to the submission")
	cmd.Flags().StringVar(&compilerOptions, "compiler-options", "", "Extra compiler flags")
	cmd.Flags().StringVar(&runArgs, "args", "", "Command-line arguments passed to the program")
	cmd.Flags().IntVar(&numberOfRuns, "runs", 1, "Number of times to run after compiling")
	cmd.Flags().BoolVar(&enableNetwork, "enable-network", false, "Allow network access during execution")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "URL the engine POSTs the result to on completion")
	cmd.Flags().IntVar(&priority, "priority", 0, "Dispatcher priority, higher runs first")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block and poll until the submission reaches a terminal state")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 2*time.Minute, "Maximum time to wait with --wait")

	return cmd
}

func printSubmissionResult(result *submissionResult, verbose bool) error {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	statusColor := green
	if result.Status != "accepted" {
		statusColor = red
	}
	fmt.Print("Status: ")
	statusColor.Println(result.Status)

	if result.CompileOutput != "" {
		bold.Println("COMPILE OUTPUT")
		fmt.Print(indentLines(result.CompileOutput))
	}
	if result.Stdout != "" {
		bold.Println("STDOUT")
		fmt.Print(indentLines(result.Stdout))
	}
	if result.Stderr != "" {
		bold.Println("STDERR")
		fmt.Print(indentLines(result.Stderr))
	}
	if result.ExitSignal != nil {
		fmt.Print("Signal: ")
		yellow.Printf("%d\n", *result.ExitSignal)
	} else if result.ExitCode != nil {
		fmt.Print("Exit Code: ")
		if *result.ExitCode == 0 {
			green.Printf("%d\n", *result.ExitCode)
		} else {
			red.Printf("%d\n", *result.ExitCode)
		}
	}
	if result.Message != "" {
		fmt.Printf("Message: %s\n", result.Message)
	}
	if verbose {
		fmt.Printf("CPU Time: %d ms\n", int64(result.Time*1000))
		fmt.Printf("Wall Time: %d ms\n", int64(result.WallTime*1000))
		fmt.Printf("Memory: %d KiB\n", result.Memory)
	}

	if isTerminalStatus(result.Status) && result.Status != "accepted" {
		return fmt.Errorf("submission finished with status %s", result.Status)
	}
	return nil
}

func indentLines(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n") + "\n"
}

