package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ModelLoader asks a llama.cpp router server to load a model through its
// /models and /models/load endpoints.
type ModelLoader struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// NewModelLoader creates a new model loader for the server at baseURL.
func NewModelLoader(baseURL string) *ModelLoader {
	return &ModelLoader{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: time.Second,
		timeout:      2 * time.Minute,
	}
}

type loadModelRequest struct {
	Model string `json:"model"`
}

type loadModelResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// modelStatus is one entry of the /models listing.
type modelStatus struct {
	ID      string `json:"id"`
	InCache bool   `json:"in_cache"`
	Status  struct {
		Value    string `json:"value"`
		ExitCode *int   `json:"exit_code,omitempty"`
		Failed   *bool  `json:"failed,omitempty"`
	} `json:"status"`
}

type modelsResponse struct {
	Data []modelStatus `json:"data"`
}

// status returns the server's view of model, or nil if it is not listed.
func (ml *ModelLoader) status(ctx context.Context, model string) (*modelStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ml.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	resp, err := ml.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check model status: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var models modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	for i := range models.Data {
		if models.Data[i].ID == model {
			return &models.Data[i], nil
		}
	}
	return nil, nil
}

// IsModelLoaded reports whether model is loaded on the server.
func (ml *ModelLoader) IsModelLoaded(ctx context.Context, model string) (bool, error) {
	st, err := ml.status(ctx, model)
	if err != nil {
		return false, err
	}
	return st != nil && st.InCache, nil
}

// EnsureLoaded loads model unless it is already loaded, then waits until the
// server reports it ready or failed.
func (ml *ModelLoader) EnsureLoaded(ctx context.Context, model string) error {
	if loaded, err := ml.IsModelLoaded(ctx, model); err == nil && loaded {
		return nil
	}

	body, err := json.Marshal(loadModelRequest{Model: model})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ml.baseURL+"/models/load", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ml.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send load request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}
	var loadResp loadModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&loadResp); err != nil {
		return fmt.Errorf("failed to decode load response: %w", err)
	}
	if !loadResp.Success {
		return fmt.Errorf("model load failed: %s", loadResp.Error)
	}

	// /models/load returns before loading finishes.
	return ml.waitLoaded(ctx, model)
}

func (ml *ModelLoader) waitLoaded(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, ml.timeout)
	defer cancel()

	ticker := time.NewTicker(ml.pollInterval)
	defer ticker.Stop()

	for {
		st, err := ml.status(ctx, model)
		if err == nil && st != nil {
			if st.InCache {
				return nil
			}
			if st.Status.Failed != nil && *st.Status.Failed {
				exitCode := 0
				if st.Status.ExitCode != nil {
					exitCode = *st.Status.ExitCode
				}
				return fmt.Errorf("model %s failed to load with exit code %d", model, exitCode)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("model %s did not load: %w", model, ctx.Err())
		case <-ticker.C:
		}
	}
}
