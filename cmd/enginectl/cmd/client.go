package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// submissionRequest mirrors the engine's wire shape for POST
// /api/v1/submissions; only the fields the CLI exposes as flags are set.
type submissionRequest struct {
	LanguageKey          string `json:"language_key"`
	LanguageVersion      string `json:"language_version,omitempty"`
	SourceCode           string `json:"source_code"`
	Stdin                string `json:"stdin,omitempty"`
	CompilerOptions      string `json:"compiler_options,omitempty"`
	CommandLineArguments string `json:"command_line_arguments,omitempty"`
	AdditionalFiles      string `json:"additional_files,omitempty"`
	ExpectedOutput       *string `json:"expected_output,omitempty"`
	NumberOfRuns         int    `json:"number_of_runs,omitempty"`
	EnableNetwork        bool   `json:"enable_network,omitempty"`
	CallbackURL          string `json:"callback_url,omitempty"`
	Priority             int    `json:"priority,omitempty"`
}

type submissionResult struct {
	ID             string `json:"id"`
	Token          string `json:"token"`
	LanguageKey    string `json:"language_key"`
	Status         string `json:"status"`
	Stdout         string `json:"stdout,omitempty"`
	Stderr         string `json:"stderr,omitempty"`
	CompileOutput  string `json:"compile_output,omitempty"`
	ExitCode       *int   `json:"exit_code,omitempty"`
	ExitSignal     *int    `json:"exit_signal,omitempty"`
	Time           float64 `json:"time,omitempty"`      // CPU seconds
	WallTime       float64 `json:"wall_time,omitempty"` // seconds
	Memory         int64  `json:"memory,omitempty"`
	Message        string `json:"message,omitempty"`
}

type languageInfo struct {
	Key      string   `json:"key"`
	Aliases  []string `json:"aliases,omitempty"`
	Compiled bool     `json:"compiled"`
}

// apiClient is a small wrapper around the engine's REST surface, grounded
// on the flat http.Client-per-call style the teacher's CLI used.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) createSubmission(req submissionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal submission: %w", err)
	}
	resp, err := c.http.Post(c.baseURL+"/api/v1/submissions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submit failed with status %d: %s", resp.StatusCode, string(b))
	}
	var created struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return created.Token, nil
}

func (c *apiClient) getSubmission(token string) (*submissionResult, error) {
	resp, err := c.http.Get(c.baseURL + "/api/v1/submissions/" + token)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get submission failed with status %d: %s", resp.StatusCode, string(b))
	}
	var sub submissionResult
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	return &sub, nil
}

func (c *apiClient) cancelSubmission(token string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/api/v1/submissions/"+token, nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel failed with status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (c *apiClient) listLanguages() ([]languageInfo, error) {
	resp, err := c.http.Get(c.baseURL + "/api/v1/languages")
	if err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list languages failed with status %d: %s", resp.StatusCode, string(b))
	}
	var langs []languageInfo
	if err := json.NewDecoder(resp.Body).Decode(&langs); err != nil {
		return nil, fmt.Errorf("decode languages: %w", err)
	}
	return langs, nil
}

// pollUntilTerminal polls GetSubmission until the status is terminal or
// the timeout elapses.
func pollUntilTerminal(c *apiClient, token string, timeout time.Duration) (*submissionResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		sub, err := c.getSubmission(token)
		if err != nil {
			return nil, err
		}
		if isTerminalStatus(sub.Status) {
			return sub, nil
		}
		if time.Now().After(deadline) {
			return sub, fmt.Errorf("timed out waiting for submission %s to finish (last status %s)", token, sub.Status)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func isTerminalStatus(status string) bool {
	switch status {
	case "accepted", "wrong_answer", "compilation_error", "runtime_error",
		"time_limit_exceeded", "memory_limit_exceeded", "internal_error", "cancelled":
		return true
	default:
		return false
	}
}
