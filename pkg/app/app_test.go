package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/smoke/pkg/browser/cdp"
	"github.com/triflow-ai/smoke/pkg/browser/pw"
	"github.com/triflow-ai/smoke/pkg/config"
	"github.com/triflow-ai/smoke/pkg/engine"
	"github.com/triflow-ai/smoke/pkg/replay"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func cooperative(t *testing.T) *replay.Scenario {
	t.Helper()
	s, err := replay.LoadScenario("../../testdata/scenarios/cooperative.yaml")
	require.NoError(t, err)
	return s
}

func TestNewProvider(t *testing.T) {
	p, stop, err := NewProvider(config.BrowserConfig{Driver: config.DriverPlaywright}, nil)
	require.NoError(t, err)
	assert.IsType(t, &pw.Provider{}, p)
	assert.NoError(t, stop(), "stopping an unstarted driver is a no-op")

	p, _, err = NewProvider(config.BrowserConfig{Driver: config.DriverChromedp, CDPEndpoint: "ws://127.0.0.1:9222"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &cdp.Provider{}, p)

	_, _, err = NewProvider(config.BrowserConfig{Driver: "selenium"}, nil)
	assert.Error(t, err)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}

func TestRunWithArtifacts(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Artifacts.Dir = t.TempDir()
	s := cooperative(t)

	a, err := New(cfg, Options{Provider: replay.NewProvider(s)})
	require.NoError(t, err)
	defer a.Close()

	out := a.Engine.Run(context.Background(), engine.Input{
		BaseURL:  s.Input.BaseURL,
		Email:    s.Input.Email,
		Password: s.Input.Password,
	})
	require.True(t, out.OK, out.Error)
	assert.FileExists(t, filepath.Join(a.Store.RunDir(out.RunID), "result.json"))
	assert.FileExists(t, filepath.Join(a.Store.RunDir(out.RunID), "trace.jsonl"))
}

func TestMCPServerCallsEngine(t *testing.T) {
	cfg := loadConfig(t)
	s := cooperative(t)
	a, err := New(cfg, Options{Provider: replay.NewProvider(s)})
	require.NoError(t, err)

	srv, err := a.MCPServer("test")
	require.NoError(t, err)

	call := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name": engine.ScenarioName,
			"arguments": map[string]any{
				"baseUrl":  s.Input.BaseURL,
				"email":    s.Input.Email,
				"password": s.Input.Password,
			},
		},
	}
	raw, err := json.Marshal(call)
	require.NoError(t, err)

	msg := srv.HandleMessage(context.Background(), raw)
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))
	require.NotEmpty(t, resp.Result.Content)
	assert.False(t, resp.Result.IsError)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[0].Text), &payload))
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, "opp-123", payload["opportunityId"])
}

func TestNewRejectsBadPredicate(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Verify.Predicate = "rows >"
	_, err := New(cfg, Options{Provider: replay.NewProvider(&replay.Scenario{Name: "x"})})
	assert.Error(t, err)
}
