package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
events:
  - id: evt-derby
    title: Roller Derby Finals
    ticket_types:
      - id: derby-bench
        name: Bench
        unit_price: "18.50"
        currency: GBP
        total_stock: 200
        bulk_discounts:
          - rule_type: amount_off_per_ticket
            min_qty: 6
            amount_off: "2.50"
`

func testConfig(t *testing.T) *config.Config {
	cfg := config.Load()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:" + filepath.Join(t.TempDir(), "admin.db")
	cfg.Kafka.Enabled = false
	return cfg
}

func runAdmin(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	var out bytes.Buffer
	err := run(context.Background(), args, cfg, &out, logger.NewLoggerWithWriter(io.Discard))
	return out.String(), err
}

func TestAdmin_ImportAndCancel(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	_, err := runAdmin(t, cfg, "migrate")
	require.NoError(t, err)

	out, err := runAdmin(t, cfg, "import-catalog", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 events with 1 ticket types")

	// A second import is a no-op.
	_, err = runAdmin(t, cfg, "import-catalog", "-f", path)
	require.NoError(t, err)

	out, err = runAdmin(t, cfg, "stats", "--event", "evt-derby")
	require.NoError(t, err)
	var stats struct {
		Checkins struct {
			EventID      string `json:"event_id"`
			TotalTickets int    `json:"total_tickets"`
		} `json:"checkins"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "evt-derby", stats.Checkins.EventID)
	assert.Equal(t, 0, stats.Checkins.TotalTickets)

	out, err = runAdmin(t, cfg, "cancel-event", "--event", "evt-derby", "--reason", "Venue flooded", "--unlocked")
	require.NoError(t, err)
	var result struct {
		EventID   string `json:"event_id"`
		Completed bool   `json:"completed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "evt-derby", result.EventID)
	assert.True(t, result.Completed)

	out, err = runAdmin(t, cfg, "resume-sweeps", "--unlocked")
	require.NoError(t, err)
	assert.Contains(t, out, "completed 0 sweeps")
}

func TestAdmin_Usage(t *testing.T) {
	cfg := testConfig(t)

	out, err := runAdmin(t, cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "import-catalog")
	assert.Contains(t, out, "replay-dead-letters")

	_, err = runAdmin(t, cfg, "replay-dead-letters")
	assert.EqualError(t, err, "kafka is disabled; nothing can be replayed")

	_, err = runAdmin(t, cfg, "rebuild")
	assert.Error(t, err)

	_, err = runAdmin(t, cfg, "import-catalog")
	assert.EqualError(t, err, "--file is required")

	_, err = runAdmin(t, cfg, "stats", "--event", "evt-x", "extra")
	assert.EqualError(t, err, "unexpected argument: extra")

	out, err = runAdmin(t, cfg, "migrate", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--down")
}

func TestAdmin_RejectsBadCatalog(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	bad := `
events:
  - id: evt-bad
    title: Bad Deals
    ticket_types:
      - id: free-for-all
        name: Free
        unit_price: "10"
        currency: EUR
        bulk_discounts:
          - rule_type: buy_x_get_y
            buy_qty: 1
            get_qty: 1
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	_, err := runAdmin(t, cfg, "import-catalog", "--file", path)
	assert.Error(t, err)
}
