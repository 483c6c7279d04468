// Package render turns an agent answer into the rich and plain bodies of a
// webhook payload.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
)

// Renderer builds webhook payloads. It is safe for concurrent use.
type Renderer struct {
	md     *converter.Converter
	parser parser.Parser
	strict *bluemonday.Policy
}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		parser: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)).Parser(),
		strict: bluemonday.StrictPolicy(),
	}
}

// Payload builds the webhook body for a classified response.
func (r *Renderer) Payload(category domain.Category, resp *domain.AgentResponse) domain.WebhookPayload {
	text := ""
	var agents []string
	if resp != nil {
		text = resp.Text
		agents = append(agents, resp.AgentsUsed...)
	}
	if agents == nil {
		agents = []string{}
	}

	rich := r.Rich(text)
	return domain.WebhookPayload{
		Header:        category,
		ResponseRich:  rich,
		ResponsePlain: r.Plain(rich),
		AgentsUsed:    agents,
	}
}

// Rich returns markdown. Answers containing HTML are converted; markdown
// passes through.
func (r *Renderer) Rich(text string) string {
	text = strings.TrimSpace(text)
	src := []byte(text)
	if !hasHTML(r.parse(src)) {
		return text
	}
	md, err := r.md.ConvertString(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(md)
}

// Plain renders markdown as plain text. Headings, emphasis and code markers
// are dropped; list markers, link URLs and table cells are kept.
func (r *Renderer) Plain(markdown string) string {
	src := []byte(markdown)
	w := &plainWriter{src: src, strict: r.strict}
	return strings.TrimSpace(w.blocks(r.parse(src), "\n\n"))
}

func (r *Renderer) parse(src []byte) ast.Node {
	return r.parser.Parse(text.NewReader(src))
}

func hasHTML(doc ast.Node) bool {
	found := false
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n.(type) {
		case *ast.HTMLBlock, *ast.RawHTML:
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

type plainWriter struct {
	src    []byte
	strict *bluemonday.Policy
}

// blocks renders the block children of n, skipping empty ones.
func (w *plainWriter) blocks(n ast.Node, sep string) string {
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := w.block(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (w *plainWriter) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
		return strings.TrimSpace(w.inline(n))

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return strings.TrimRight(w.lines(n), "\n")

	case *ast.HTMLBlock:
		raw := w.lines(n)
		if n.HasClosure() {
			raw += string(n.ClosureLine.Value(w.src))
		}
		return strings.TrimSpace(html.UnescapeString(w.strict.Sanitize(raw)))

	case *ast.List:
		return w.list(n)

	case *ast.ThematicBreak:
		return ""

	case *east.Table:
		var rows []string
		for row := n.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, strings.TrimSpace(w.inline(cell)))
			}
			rows = append(rows, strings.Join(cells, " | "))
		}
		return strings.Join(rows, "\n")

	default:
		return w.blocks(n, "\n\n")
	}
}

func (w *plainWriter) list(l *ast.List) string {
	sep := "\n\n"
	if l.IsTight {
		sep = "\n"
	}
	var items []string
	i := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", i)
			i++
		}
		body := w.blocks(item, sep)
		indent := "\n" + strings.Repeat(" ", len(marker))
		items = append(items, marker+strings.ReplaceAll(body, "\n", indent))
	}
	return strings.Join(items, sep)
}

func (w *plainWriter) inline(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			v := util.UnescapePunctuations(c.Segment.Value(w.src))
			v = util.ResolveNumericReferences(v)
			b.Write(util.ResolveEntityNames(v))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.RawHTML:
			// Tags only; the text between them is separate nodes.
		case *ast.AutoLink:
			b.Write(c.URL(w.src))
		case *ast.Link:
			label := w.inline(c)
			dest := string(c.Destination)
			if label == "" || label == dest {
				b.WriteString(dest)
			} else {
				b.WriteString(label + " (" + dest + ")")
			}
		default:
			b.WriteString(w.inline(c))
		}
	}
	return b.String()
}

func (w *plainWriter) lines(n ast.Node) string {
	var b strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(w.src))
	}
	return b.String()
}
