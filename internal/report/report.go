// Package report renders the selector status page: a Markdown document
// converted to HTML with GFM extensions and syntax highlighting.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/CageChen/dfsselect/internal/checkpoint"
	"github.com/CageChen/dfsselect/internal/selector"
)

//go:embed templates/status.html
var assets embed.FS

const highlightStyle = "monokai"

// TOCItem represents a table of contents entry
type TOCItem struct {
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
}

// Result contains a rendered document.
type Result struct {
	HTML  string    `json:"html"`
	TOC   []TOCItem `json:"toc"`
	Title string    `json:"title"`
}

// Status is everything the status page shows.
type Status struct {
	Source         string
	Root           string
	FSType         string
	IgnorePrefixes []string
	Exclude        []string
	SourceLimit    int64
	Checkpoints    []checkpoint.Entry

	// Last is the most recent selection served, if any.
	Last      *selector.Selection
	LastAt    time.Time
	LastError string

	// Config is the effective configuration as YAML, secrets redacted.
	Config []byte
}

// Renderer converts Markdown to HTML pages.
type Renderer struct {
	md goldmark.Markdown

	once    sync.Once
	initErr error
	page    *template.Template
	css     string
}

// NewRenderer creates a renderer with GFM and chroma highlighting enabled.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
			highlighting.NewHighlighting(
				highlighting.WithStyle(highlightStyle),
				highlighting.WithFormatOptions(
					html.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithXHTML(),
		),
	)
	return &Renderer{md: md}
}

func (r *Renderer) ensureTemplates() error {
	r.once.Do(func() {
		tpl, err := template.ParseFS(assets, "templates/status.html")
		if err != nil {
			r.initErr = err
			return
		}
		var css bytes.Buffer
		if err := html.New(html.WithClasses(true)).WriteCSS(&css, styles.Get(highlightStyle)); err != nil {
			r.initErr = fmt.Errorf("write highlight css: %w", err)
			return
		}
		r.page = tpl
		r.css = css.String()
	})
	return r.initErr
}

// Render converts markdown source to HTML and extracts its headings.
func (r *Renderer) Render(source []byte) (*Result, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return nil, err
	}

	toc := r.extractTOC(source)
	title := ""
	if len(toc) > 0 {
		title = toc[0].Title
	}

	return &Result{
		HTML:  buf.String(),
		TOC:   toc,
		Title: title,
	}, nil
}

// WritePage renders the status page as a complete HTML document.
func (r *Renderer) WritePage(w io.Writer, s Status) error {
	if err := r.ensureTemplates(); err != nil {
		return err
	}
	res, err := r.Render(Markdown(s))
	if err != nil {
		return err
	}
	return r.page.Execute(w, map[string]any{
		"Title": res.Title,
		"TOC":   res.TOC,
		"CSS":   template.CSS(r.css),
		"Body":  template.HTML(res.HTML),
	})
}

// Markdown builds the status document.
func Markdown(s Status) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# dfsselect: %s\n\n", s.Source)

	b.WriteString("## Source\n\n")
	b.WriteString("| Setting | Value |\n| --- | --- |\n")
	fmt.Fprintf(&b, "| Root | `%s` |\n", s.Root)
	fmt.Fprintf(&b, "| Filesystem | %s |\n", s.FSType)
	fmt.Fprintf(&b, "| Ignore prefixes | %s |\n", codeList(s.IgnorePrefixes))
	fmt.Fprintf(&b, "| Exclude | %s |\n", codeList(s.Exclude))
	fmt.Fprintf(&b, "| Source limit | %s (%d bytes) |\n\n", humanize.IBytes(uint64(max(s.SourceLimit, 0))), s.SourceLimit)

	b.WriteString("## Checkpoints\n\n")
	if len(s.Checkpoints) == 0 {
		b.WriteString("No checkpoint has been committed yet.\n\n")
	} else {
		b.WriteString("| Source | Checkpoint | Watermark | Committed |\n| --- | --- | --- | --- |\n")
		for _, e := range s.Checkpoints {
			fmt.Fprintf(&b, "| `%s` | `%s` | %s | %s |\n",
				e.Source, e.Checkpoint, watermark(e.Checkpoint), humanize.Time(e.UpdatedAt))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Last selection\n\n")
	switch {
	case s.LastError != "":
		fmt.Fprintf(&b, "Failed %s:\n\n```text\n%s\n```\n\n", humanize.Time(s.LastAt), s.LastError)
	case s.Last == nil:
		b.WriteString("No batch has been selected since startup.\n\n")
	default:
		st := s.Last.Stats
		fmt.Fprintf(&b, "Served %s, next checkpoint `%s`.\n\n", humanize.Time(s.LastAt), s.Last.Checkpoint)
		b.WriteString("| Metric | Value |\n| --- | --- |\n")
		fmt.Fprintf(&b, "| Directories listed | %s |\n", humanize.Comma(int64(st.DirsListed)))
		fmt.Fprintf(&b, "| Entries seen | %s |\n", humanize.Comma(int64(st.EntriesSeen)))
		fmt.Fprintf(&b, "| Ignored | %d |\n", st.Ignored)
		fmt.Fprintf(&b, "| Excluded | %d |\n", st.Excluded)
		fmt.Fprintf(&b, "| Symlinked directories skipped | %d |\n", st.SkippedSymlinkDirs)
		fmt.Fprintf(&b, "| Missing directories | %d |\n", st.MissingDirs)
		fmt.Fprintf(&b, "| Eligible files | %d |\n", st.Eligible)
		fmt.Fprintf(&b, "| Selected files | %d |\n", st.Selected)
		fmt.Fprintf(&b, "| Selected size | %s |\n", humanize.IBytes(uint64(st.SelectedBytes)))
		fmt.Fprintf(&b, "| Walk time | %s |\n\n", st.Duration.Round(time.Millisecond))

		if len(s.Last.Files) > 0 {
			b.WriteString("### Batch\n\n")
			for _, f := range s.Last.Files {
				fmt.Fprintf(&b, "- `%s` (%s, %s)\n", f.Path, humanize.IBytes(uint64(f.Size)), watermark(selector.FormatCheckpoint(f.ModTime)))
			}
			b.WriteString("\n")
		}
	}

	if len(s.Config) > 0 {
		b.WriteString("## Configuration\n\n```yaml\n")
		b.Write(s.Config)
		if !bytes.HasSuffix(s.Config, []byte("\n")) {
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}

	return []byte(b.String())
}

func codeList(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "`" + item + "`"
	}
	return strings.Join(quoted, ", ")
}

// watermark renders a checkpoint as a UTC timestamp.
func watermark(cp string) string {
	v, err := selector.ParseCheckpoint(&cp)
	if err != nil {
		return "invalid"
	}
	if v == selector.BeginningOfTime {
		return "beginning of time"
	}
	return time.UnixMilli(v).UTC().Format(time.RFC3339)
}

// extractTOC walks the AST to extract headings
func (r *Renderer) extractTOC(source []byte) []TOCItem {
	reader := text.NewReader(source)
	doc := r.md.Parser().Parse(reader)

	var toc []TOCItem
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if heading, ok := n.(*ast.Heading); ok {
			anchor := generateAnchor(extractText(heading, source))
			if id, ok := heading.AttributeString("id"); ok {
				if b, ok := id.([]byte); ok {
					anchor = string(b)
				}
			}
			toc = append(toc, TOCItem{
				Level:  heading.Level,
				Title:  extractText(heading, source),
				Anchor: anchor,
			})
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil
	}

	return toc
}

// extractText extracts text content from a node, including inline code.
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			buf.Write(c.Segment.Value(source))
		default:
			buf.WriteString(extractText(c, source))
		}
	}
	return buf.String()
}

var (
	anchorStrip  = regexp.MustCompile(`[^a-z0-9\-]`)
	anchorHyphen = regexp.MustCompile(`-+`)
)

// generateAnchor creates a URL-safe anchor from text
func generateAnchor(text string) string {
	anchor := strings.ToLower(text)
	anchor = strings.ReplaceAll(anchor, " ", "-")
	anchor = anchorStrip.ReplaceAllString(anchor, "")
	anchor = anchorHyphen.ReplaceAllString(anchor, "-")
	return strings.Trim(anchor, "-")
}
