package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// Minimal valid PNG header, enough for the adapter which never decodes.
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 1, 2, 3}

func TestExecuteRendersArtifact(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chart" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		w.Write(pngBytes)
	}))
	defer srv.Close()

	adapter := New(Config{BaseURL: srv.URL}, nil)
	out, err := adapter.Execute(context.Background(), json.RawMessage(`{
		"type": "bar",
		"title": "Wins per season",
		"labels": ["S1", "S2", "S3"],
		"series": [{"label": "wins", "values": [3, 7, 5]}]
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if len(out.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(out.Artifacts))
	}
	art := out.Artifacts[0]
	if art.MimeType != "image/png" || art.Filename != "chart.png" {
		t.Errorf("artifact metadata = %q %q", art.MimeType, art.Filename)
	}
	if !bytes.Equal(art.Data, pngBytes) {
		t.Error("artifact bytes do not match the render")
	}
	if art.ID == "" {
		t.Error("artifact has no id")
	}
	if !strings.Contains(out.Content, "Wins per season") {
		t.Errorf("caption missing title: %q", out.Content)
	}

	if gotBody["format"] != "png" {
		t.Errorf("render format = %v", gotBody["format"])
	}
	cfg, ok := gotBody["chart"].(map[string]any)
	if !ok || cfg["type"] != "bar" {
		t.Errorf("chart config = %v", gotBody["chart"])
	}
}

func TestExecuteMisalignedSeries(t *testing.T) {
	adapter := New(Config{BaseURL: "http://unused.invalid"}, nil)
	_, err := adapter.Execute(context.Background(), json.RawMessage(`{
		"type": "line",
		"labels": ["a", "b"],
		"series": [{"values": [1, 2, 3]}]
	}`))
	if err == nil || !strings.Contains(err.Error(), "3 values for 2 labels") {
		t.Fatalf("err = %v, want alignment error", err)
	}
}

func TestExecuteEmptyRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// 200 with no body.
	}))
	defer srv.Close()

	adapter := New(Config{BaseURL: srv.URL}, nil)
	_, err := adapter.Execute(context.Background(), json.RawMessage(`{
		"type": "bar", "labels": ["a"], "series": [{"values": [1]}]
	}`))
	if err == nil || !strings.Contains(err.Error(), "empty image") {
		t.Fatalf("err = %v, want empty-image error", err)
	}
}

func TestBuildChartJSPieColors(t *testing.T) {
	cfg := buildChartJS(chartParams{
		Type:   "pie",
		Labels: []string{"a", "b", "c"},
		Series: []series{{Values: []float64{1, 2, 3}}},
	})
	datasets := cfg["data"].(map[string]any)["datasets"].([]map[string]any)
	colors, ok := datasets[0]["backgroundColor"].([]string)
	if !ok {
		t.Fatalf("pie dataset colors = %T, want per-segment slice", datasets[0]["backgroundColor"])
	}
	if len(colors) != 3 {
		t.Errorf("segment colors = %d, want one per value", len(colors))
	}
}

func TestBuildChartJSTitle(t *testing.T) {
	cfg := buildChartJS(chartParams{Type: "bar", Labels: []string{"a"}, Series: []series{{Values: []float64{1}}}})
	if _, ok := cfg["options"]; ok {
		t.Error("untitled chart should not carry title options")
	}
}
