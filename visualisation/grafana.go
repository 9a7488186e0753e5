// Command visualisation writes a Grafana dashboard for the metrics
// createabunch exports with -prometheus-addr
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// GrafanaDashboard is the import envelope Grafana expects
type GrafanaDashboard struct {
	Dashboard DashboardConfig `json:"dashboard"`
	FolderID  int             `json:"folderId"`
	Overwrite bool            `json:"overwrite"`
}

// DashboardConfig represents the dashboard configuration
type DashboardConfig struct {
	ID            interface{}   `json:"id"`
	Title         string        `json:"title"`
	Tags          []string      `json:"tags"`
	Style         string        `json:"style"`
	Timezone      string        `json:"timezone"`
	Panels        []Panel       `json:"panels"`
	Time          TimeRange     `json:"time"`
	Timepicker    Timepicker    `json:"timepicker"`
	Templating    List          `json:"templating"`
	Annotations   List          `json:"annotations"`
	Refresh       string        `json:"refresh"`
	SchemaVersion int           `json:"schemaVersion"`
	Version       int           `json:"version"`
	Links         []interface{} `json:"links"`
}

// Panel represents a Grafana panel
type Panel struct {
	ID          int         `json:"id"`
	Title       string      `json:"title"`
	Type        string      `json:"type"`
	GridPos     GridPos     `json:"gridPos"`
	Targets     []Target    `json:"targets"`
	FieldConfig FieldConfig `json:"fieldConfig"`
	Options     interface{} `json:"options,omitempty"`
}

// GridPos represents panel grid position
type GridPos struct {
	H int `json:"h"`
	W int `json:"w"`
	X int `json:"x"`
	Y int `json:"y"`
}

// Target is one PromQL query of a panel
type Target struct {
	Expr         string `json:"expr"`
	LegendFormat string `json:"legendFormat,omitempty"`
	RefID        string `json:"refId"`
}

// FieldConfig represents field configuration
type FieldConfig struct {
	Defaults Defaults `json:"defaults"`
}

// Defaults represents default field settings
type Defaults struct {
	Color      Color         `json:"color"`
	Custom     *Custom       `json:"custom,omitempty"`
	Mappings   []interface{} `json:"mappings"`
	Thresholds Thresholds    `json:"thresholds"`
	Unit       string        `json:"unit"`
}

// Color represents color configuration
type Color struct {
	Mode string `json:"mode"`
}

// Custom holds the timeseries draw settings
type Custom struct {
	DrawStyle         string `json:"drawStyle"`
	LineInterpolation string `json:"lineInterpolation"`
	LineWidth         int    `json:"lineWidth"`
	FillOpacity       int    `json:"fillOpacity"`
	ShowPoints        string `json:"showPoints"`
	SpanNulls         bool   `json:"spanNulls"`
	Stacking          struct {
		Group string `json:"group"`
		Mode  string `json:"mode"`
	} `json:"stacking"`
}

// Thresholds represents thresholds configuration
type Thresholds struct {
	Mode  string          `json:"mode"`
	Steps []ThresholdStep `json:"steps"`
}

// ThresholdStep represents a threshold step. A nil Value is the base step
type ThresholdStep struct {
	Color string   `json:"color"`
	Value *float64 `json:"value"`
}

// TimeRange represents time range
type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Timepicker represents timepicker configuration
type Timepicker struct {
	RefreshIntervals []string `json:"refresh_intervals"`
}

// List is an empty-by-default templating or annotation list
type List struct {
	List []interface{} `json:"list"`
}

func thresholds(warn, crit float64) Thresholds {
	return Thresholds{
		Mode: "absolute",
		Steps: []ThresholdStep{
			{Color: "green"},
			{Color: "yellow", Value: &warn},
			{Color: "red", Value: &crit},
		},
	}
}

func timeseries(id int, title, unit string, pos GridPos, targets ...Target) Panel {
	custom := &Custom{
		DrawStyle:         "line",
		LineInterpolation: "linear",
		LineWidth:         1,
		FillOpacity:       10,
		ShowPoints:        "never",
	}
	custom.Stacking.Group = "A"
	custom.Stacking.Mode = "none"
	for i := range targets {
		targets[i].RefID = string(rune('A' + i))
	}
	return Panel{
		ID:      id,
		Title:   title,
		Type:    "timeseries",
		GridPos: pos,
		Targets: targets,
		FieldConfig: FieldConfig{
			Defaults: Defaults{
				Color:      Color{Mode: "palette-classic"},
				Custom:     custom,
				Mappings:   []interface{}{},
				Thresholds: Thresholds{Mode: "absolute", Steps: []ThresholdStep{{Color: "green"}}},
				Unit:       unit,
			},
		},
	}
}

func stat(id int, title, unit string, pos GridPos, target Target) Panel {
	target.RefID = "A"
	return Panel{
		ID:      id,
		Title:   title,
		Type:    "stat",
		GridPos: pos,
		Targets: []Target{target},
		FieldConfig: FieldConfig{
			Defaults: Defaults{
				Color:      Color{Mode: "thresholds"},
				Mappings:   []interface{}{},
				Thresholds: Thresholds{Mode: "absolute", Steps: []ThresholdStep{{Color: "blue"}}},
				Unit:       unit,
			},
		},
		Options: map[string]interface{}{
			"reduceOptions": map[string]interface{}{
				"calcs":  []string{"lastNotNull"},
				"fields": "",
				"values": false,
			},
			"colorMode": "value",
			"graphMode": "none",
		},
	}
}

// CreateDashboard builds the createabunch dashboard
func CreateDashboard() *GrafanaDashboard {
	cpu := timeseries(7, "CPU Utilization", "percent", GridPos{H: 8, W: 12, X: 0, Y: 16},
		Target{Expr: `createabunch_cpu_utilization`, LegendFormat: "{{host}}"})
	cpu.FieldConfig.Defaults.Thresholds = thresholds(70, 90)
	mem := timeseries(8, "Memory Utilization", "percent", GridPos{H: 8, W: 12, X: 12, Y: 16},
		Target{Expr: `createabunch_memory_utilization`, LegendFormat: "{{host}}"})
	mem.FieldConfig.Defaults.Thresholds = thresholds(80, 95)

	return &GrafanaDashboard{
		Dashboard: DashboardConfig{
			Title:         "createabunch",
			Tags:          []string{"createabunch", "metadata", "benchmark"},
			Style:         "dark",
			Timezone:      "browser",
			SchemaVersion: 30,
			Version:       1,
			Refresh:       "5s",
			Time:          TimeRange{From: "now-30m", To: "now"},
			Timepicker: Timepicker{
				RefreshIntervals: []string{"5s", "10s", "30s", "1m", "5m"},
			},
			Templating:  List{List: []interface{}{}},
			Annotations: List{List: []interface{}{}},
			Links:       []interface{}{},
			Panels: []Panel{
				timeseries(1, "Creates per second", "ops", GridPos{H: 8, W: 12, X: 0, Y: 0},
					Target{Expr: `sum(rate(createabunch_files_created_total[1m]))`, LegendFormat: "all workers"}),
				timeseries(2, "Creates per second by rank", "ops", GridPos{H: 8, W: 12, X: 12, Y: 0},
					Target{Expr: `rate(createabunch_files_created_total[1m])`, LegendFormat: "rank {{rank}}"}),
				timeseries(3, "Last flushed second", "short", GridPos{H: 8, W: 12, X: 0, Y: 8},
					Target{Expr: `createabunch_bucket_creates`, LegendFormat: "rank {{rank}}"}),
				stat(4, "Files created", "short", GridPos{H: 4, W: 4, X: 12, Y: 8},
					Target{Expr: `sum(createabunch_files_created_total)`}),
				stat(5, "Elapsed", "s", GridPos{H: 4, W: 4, X: 16, Y: 8},
					Target{Expr: `max(createabunch_elapsed_seconds)`}),
				stat(6, "Workers", "short", GridPos{H: 4, W: 4, X: 20, Y: 8},
					Target{Expr: `max(createabunch_workers)`}),
				cpu,
				mem,
			},
		},
		Overwrite: true,
	}
}

// SaveDashboard saves the dashboard configuration to a JSON file
func SaveDashboard(dashboard *GrafanaDashboard, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(dashboard, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write dashboard file: %w", err)
	}
	return nil
}

func main() {
	outputPath := flag.String("output", "grafana/createabunch-dashboard.json", "Dashboard JSON file")
	flag.Parse()

	if err := SaveDashboard(CreateDashboard(), *outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving dashboard: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dashboard saved to %s\n", *outputPath)
}
