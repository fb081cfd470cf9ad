package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sandboxrun/engine/internal/types"
)

// RemoteBackend delegates execution to an out-of-process executor
// reachable over HTTP, for deployments that run the sandboxing tier on
// separate, more tightly locked-down hosts than the dispatcher.
type RemoteBackend struct {
	Endpoint string
	Client   *http.Client
}

// NewRemoteBackend returns a Backend that POSTs each Request to endpoint
// and expects a JSON-encoded types.RunOutcome back.
func NewRemoteBackend(endpoint string) *RemoteBackend {
	return &RemoteBackend{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 0},
	}
}

type remoteRequest struct {
	Workspace     types.Workspace      `json:"workspace"`
	Argv          []string             `json:"argv"`
	Env           []string             `json:"env"`
	Stdin         string               `json:"stdin"`
	Limits        types.ResourceLimits `json:"limits"`
	EnableNetwork bool                 `json:"enable_network"`
}

func (b *RemoteBackend) Run(ctx context.Context, req Request) (types.RunOutcome, error) {
	payload := remoteRequest{
		Workspace:     req.Workspace,
		Argv:          req.Argv,
		Env:           req.Env,
		Stdin:         req.Stdin,
		Limits:        req.Limits,
		EnableNetwork: req.EnableNetwork,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.RunOutcome{}, fmt.Errorf("sandbox: encoding remote request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout(req.Limits)+10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return types.RunOutcome{}, fmt.Errorf("sandbox: building remote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return types.RunOutcome{Termination: types.TerminationSpawnFailed, SpawnError: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.RunOutcome{}, fmt.Errorf("sandbox: remote executor returned status %d", resp.StatusCode)
	}

	var outcome types.RunOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return types.RunOutcome{}, fmt.Errorf("sandbox: decoding remote outcome: %w", err)
	}
	return outcome, nil
}
