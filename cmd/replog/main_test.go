package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"replog/pkg/config"
	"replog/pkg/rpc"

	"github.com/stretchr/testify/require"
)

func TestInitConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := initConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default().Master.RetryMax, cfg.Master.RetryMax)
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http-server:\n  port: 9001\nmaster:\n  retry_initial: 2s\n"), 0o600))
	t.Setenv(config.EnvRetryMax, "30")
	t.Setenv(config.EnvPort, "9002")

	cfg, err := loadConfig(&rootFlags{configPath: path, logLevel: "debug"})
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Master.RetryInitial)
	require.Equal(t, 30*time.Second, cfg.Master.RetryMax)
	require.Equal(t, 9002, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Logger.Level)

	cfg, err = loadConfig(&rootFlags{configPath: path, port: 9003})
	require.NoError(t, err)
	require.Equal(t, 9003, cfg.Server.Port)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("secondary:\n  error_rate: 2\n"), 0o600))

	_, err := loadConfig(&rootFlags{configPath: path})
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestSubmitAndListCommands(t *testing.T) {
	seen := make(chan rpc.SubmitRequest, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages", func(w http.ResponseWriter, r *http.Request) {
		var got rpc.SubmitRequest
		_ = json.NewDecoder(r.Body).Decode(&got)
		seen <- got
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(rpc.SubmitResponse{Status: "success", ID: 1, Message: "hello world", Acks: 2, W: 2})
	})
	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rpc.MessagesResponse{Messages: []rpc.Message{{ID: 1, Message: "hello world"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"submit", "--url", srv.URL, "-w", "2", "--timeout", "1s", "hello", "world"})
	require.NoError(t, root.Execute())

	got := <-seen
	require.NotNil(t, got.Message)
	require.Equal(t, "hello world", *got.Message)
	require.NotNil(t, got.W)
	require.Equal(t, 2, *got.W)
	require.NotNil(t, got.TimeoutMS)
	require.EqualValues(t, 1000, *got.TimeoutMS)

	var resp rpc.SubmitResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Equal(t, "success", resp.Status)

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"list", "--url", srv.URL})
	require.NoError(t, root.Execute())
	require.Equal(t, "1\thello world\n", out.String())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "DEBUG", parseLevel("debug").String())
	require.Equal(t, "INFO", parseLevel("").String())
	require.Equal(t, "ERROR", parseLevel("ERROR").String())
}
