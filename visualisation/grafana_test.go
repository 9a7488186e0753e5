package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardQueriesExportedMetrics(t *testing.T) {
	d := CreateDashboard()

	ids := make(map[int]bool)
	for _, p := range d.Dashboard.Panels {
		assert.False(t, ids[p.ID], "duplicate panel id %d", p.ID)
		ids[p.ID] = true
		require.NotEmpty(t, p.Targets, p.Title)
		for _, target := range p.Targets {
			assert.Contains(t, target.Expr, "createabunch_", p.Title)
			assert.NotEmpty(t, target.RefID, p.Title)
		}
	}
}

func TestSaveDashboard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grafana", "dash.json")
	require.NoError(t, SaveDashboard(CreateDashboard(), path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	dash := decoded["dashboard"].(map[string]interface{})
	assert.Equal(t, "createabunch", dash["title"])
	assert.Len(t, dash["panels"], len(CreateDashboard().Dashboard.Panels))
	assert.True(t, strings.Contains(string(b), `"value": null`), "base threshold step")
}
