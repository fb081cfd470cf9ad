package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type streamMessage struct {
	Type       string                 `json:"type"`
	Status     string                 `json:"status,omitempty"`
	Submission map[string]interface{} `json:"submission,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

func NewStreamCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <token>",
		Short: "Follow a submission's status over a WebSocket until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return streamSubmission(baseURL, args[0], verbose)
		},
	}
	return cmd
}

func streamSubmission(baseURL, token string, verbose bool) error {
	wsURL, err := toWebSocketURL(baseURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/api/v1/stream/"+token, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		_ = conn.WriteJSON(map[string]string{"action": "cancel"})
	}()

	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil
		}
		switch msg.Type {
		case "status":
			yellow.Printf("status: %s\n", msg.Status)
		case "terminal":
			if msg.Status == "accepted" {
				green.Printf("status: %s\n", msg.Status)
			} else {
				red.Printf("status: %s\n", msg.Status)
			}
			if verbose {
				b, _ := json.MarshalIndent(msg.Submission, "", "  ")
				fmt.Println(string(b))
			}
			return nil
		case "error":
			return fmt.Errorf("stream error: %s", msg.Error)
		}
	}
}

func toWebSocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
	return u.String(), nil
}
