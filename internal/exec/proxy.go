package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"codesync/internal/models"
)

// ErrNotConfigured is returned when the execution API credentials are
// missing from the environment.
var ErrNotConfigured = errors.New("execution API credentials not configured")

// Proxy forwards execution requests to the external execution
// collaborator. The collaborator's sandboxing, compilation and timeout
// behavior is its own business; the proxy only relays the result.
type Proxy struct {
	url          string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewProxy(url, clientID, clientSecret string) *Proxy {
	return &Proxy{
		url:          url,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type executePayload struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Script       string `json:"script"`
	Language     string `json:"language"`
	Stdin        string `json:"stdin"`
	VersionIndex string `json:"versionIndex"`
}

type executeReply struct {
	Output     string `json:"output"`
	StatusCode int    `json:"statusCode"`
	Memory     string `json:"memory"`
	CPUTime    string `json:"cpuTime"`
	Error      string `json:"error"`
}

// Execute runs one stateless round-trip against the execution API.
func (p *Proxy) Execute(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error) {
	if p.clientID == "" || p.clientSecret == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(executePayload{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Script:       req.Script,
		Language:     req.Language,
		Stdin:        req.Stdin,
		VersionIndex: "0",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build execution request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call execution API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execution API returned status %d", resp.StatusCode)
	}

	var reply executeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode execution response: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("execution API rejected request: %s", reply.Error)
	}

	return &models.ExecuteResponse{
		Output:     reply.Output,
		StatusCode: reply.StatusCode,
		Memory:     reply.Memory,
		CPUTime:    reply.CPUTime,
	}, nil
}
