package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/CageChen/dfsselect/internal/checkpoint"
	"github.com/CageChen/dfsselect/internal/fs"
	"github.com/CageChen/dfsselect/internal/selector"
)

func sampleStatus() Status {
	paths := "/data/a,/data/b"
	return Status{
		Source:         "/data",
		Root:           "/data",
		FSType:         fs.TypeLocal,
		IgnorePrefixes: []string{".", "_"},
		SourceLimit:    250,
		Checkpoints: []checkpoint.Entry{
			{Source: "/data", Checkpoint: "1700000000000", UpdatedAt: time.Now()},
		},
		Last: &selector.Selection{
			Paths:      &paths,
			Checkpoint: "20",
			Files: []fs.FileStatus{
				{Path: "/data/a", Name: "a", Size: 100, ModTime: 10},
				{Path: "/data/b", Name: "b", Size: 100, ModTime: 20},
			},
			Stats: selector.Stats{DirsListed: 1, EntriesSeen: 3, Eligible: 3, Selected: 2, SelectedBytes: 200},
		},
		LastAt: time.Now(),
		Config: []byte("root: /data\nsource_limit: 250\n"),
	}
}

func TestRender(t *testing.T) {
	r := NewRenderer()
	source := []byte("# Hello World\n\nThis is a *test*.")

	result, err := r.Render(source)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if !strings.Contains(result.HTML, "<h1") || !strings.Contains(result.HTML, "Hello World</h1>") {
		t.Error("expected H1 tag containing 'Hello World' in HTML")
	}
	if !strings.Contains(result.HTML, "<em>test</em>") {
		t.Error("expected italicized test in HTML")
	}
	if result.Title != "Hello World" {
		t.Errorf("expected title Hello World, got %s", result.Title)
	}
}

func TestMarkdown_Sections(t *testing.T) {
	md := string(Markdown(sampleStatus()))

	for _, want := range []string{
		"# dfsselect: /data",
		"## Source",
		"| Ignore prefixes | `.`, `_` |",
		"| Exclude | none |",
		"| Source limit | 250 B (250 bytes) |",
		"| `/data` | `1700000000000` | 2023-11-14T22:13:20Z |",
		"next checkpoint `20`",
		"| Selected files | 2 |",
		"- `/data/a` (100 B, 1970-01-01T00:00:00Z)",
		"```yaml\nroot: /data\nsource_limit: 250\n```",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}

func TestMarkdown_EmptyState(t *testing.T) {
	md := string(Markdown(Status{Source: "s3://bucket/raw", FSType: fs.TypeS3}))

	if !strings.Contains(md, "No checkpoint has been committed yet.") {
		t.Error("expected empty checkpoint notice")
	}
	if !strings.Contains(md, "No batch has been selected since startup.") {
		t.Error("expected empty selection notice")
	}
	if strings.Contains(md, "## Configuration") {
		t.Error("configuration section should be omitted without config")
	}
}

func TestMarkdown_LastError(t *testing.T) {
	s := Status{Source: "/data", LastError: errors.New("unable to read from source from checkpoint 5").Error(), LastAt: time.Now()}
	md := string(Markdown(s))
	if !strings.Contains(md, "```text\nunable to read from source from checkpoint 5\n```") {
		t.Errorf("expected error block, got\n%s", md)
	}
}

func TestWritePage(t *testing.T) {
	r := NewRenderer()
	var buf bytes.Buffer
	if err := r.WritePage(&buf, sampleStatus()); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}
	page := buf.String()

	if !strings.Contains(page, "<title>dfsselect: /data</title>") {
		t.Error("expected page title from first heading")
	}
	if !strings.Contains(page, `href="#checkpoints"`) {
		t.Error("expected TOC link to checkpoints section")
	}
	if !strings.Contains(page, "<table>") {
		t.Error("expected GFM tables to render")
	}
	if !strings.Contains(page, `class="chroma"`) {
		t.Error("expected highlighted YAML block")
	}
	if !strings.Contains(page, ".chroma") {
		t.Error("expected chroma stylesheet")
	}
}

func TestExtractTOC(t *testing.T) {
	r := NewRenderer()
	toc := r.extractTOC([]byte("# Head 1\n## Head `2`\n### Head 3"))
	if len(toc) != 3 {
		t.Fatalf("expected 3 TOC items, got %d", len(toc))
	}
	if toc[0].Level != 1 || toc[0].Title != "Head 1" || toc[0].Anchor != "head-1" {
		t.Errorf("TOC item 0 mismatch: %+v", toc[0])
	}
	if toc[1].Title != "Head 2" {
		t.Errorf("TOC item 1 mismatch: %+v", toc[1])
	}
}

func TestGenerateAnchor(t *testing.T) {
	tests := []struct {
		input  string
		output string
	}{
		{"Hello World", "hello-world"},
		{"Test! @# Content", "test-content"},
		{"Multiple   Spaces", "multiple-spaces"},
		{"-Start-and-End-", "start-and-end"},
	}

	for _, tt := range tests {
		if got := generateAnchor(tt.input); got != tt.output {
			t.Errorf("generateAnchor(%q) = %q, want %q", tt.input, got, tt.output)
		}
	}
}
