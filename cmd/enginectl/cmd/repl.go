package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const replWaitTimeout = 2 * time.Minute

// NewReplCommand starts an interactive shell for submitting and
// inspecting jobs without re-invoking the binary per command.
func NewReplCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session against the engine",
		Long: `Start an interactive shell. Supported commands:

  submit <language> <file> [--wait]   submit a source file
  get <token>                         fetch a submission's result
  cancel <token>                      cancel a submission
  languages                           list supported languages
  exit                                leave the shell`,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			return runRepl(baseURL)
		},
	}
	return cmd
}

func runRepl(baseURL string) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = home + "/.enginectl_history"
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "enginectl> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()

	client := newAPIClient(baseURL)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if err := dispatchReplCommand(client, fields); err != nil {
			if err == errReplExit {
				return nil
			}
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

var errReplExit = fmt.Errorf("exit")

func dispatchReplCommand(client *apiClient, fields []string) error {
	switch fields[0] {
	case "exit", "quit":
		return errReplExit

	case "submit":
		if len(fields) < 3 {
			return fmt.Errorf("usage: submit <language> <file> [--wait]")
		}
		source, err := os.ReadFile(fields[2])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", fields[2], err)
		}
		token, err := client.createSubmission(submissionRequest{
			LanguageKey: fields[1],
			SourceCode:  string(source),
		})
		if err != nil {
			return err
		}
		fmt.Println(token)
		if len(fields) > 3 && fields[3] == "--wait" {
			result, err := pollUntilTerminal(client, token, replWaitTimeout)
			if err != nil {
				return err
			}
			return printSubmissionResult(result, false)
		}
		return nil

	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("usage: get <token>")
		}
		result, err := client.getSubmission(fields[1])
		if err != nil {
			return err
		}
		return printSubmissionResult(result, false)

	case "cancel":
		if len(fields) != 2 {
			return fmt.Errorf("usage: cancel <token>")
		}
		if err := client.cancelSubmission(fields[1]); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", fields[1])
		return nil

	case "languages":
		langs, err := client.listLanguages()
		if err != nil {
			return err
		}
		return printLanguageList(langs, false)

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
