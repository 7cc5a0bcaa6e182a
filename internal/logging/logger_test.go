package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicetel/ticketboard/internal/models"
)

func TestJSONLoggerCarriesBuildInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("json", false, &buf, BuildInfo{Version: "1.2.3", Commit: "abc"})

	logger.LogSyncStats(&models.RunStats{Project: "KAS", Total: 250, PagesFetched: 3, Upserted: 250, Duration: time.Second})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "sync_completed", line["msg"])
	require.Equal(t, "1.2.3", line["version"])
	require.Equal(t, "KAS", line["project"])
	require.EqualValues(t, 250, line["upserted"])
}

func TestVerboseOnlyWhenEnabled(t *testing.T) {
	var quiet, loud bytes.Buffer
	NewLogger("text", false, &quiet, BuildInfo{}).Verbose("page fetched")
	NewLogger("text", true, &loud, BuildInfo{}).Verbose("page fetched")

	require.Empty(t, quiet.String())
	require.Contains(t, loud.String(), "page fetched")
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("text", false, &buf, BuildInfo{}).LogError("sync failed", errors.New("boom"), "project", "KAS")
	require.Contains(t, buf.String(), "error=boom")
	require.Contains(t, buf.String(), "project=KAS")
}
