// Package renderer converts markdown source documents into HTML fragments.
package renderer

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// Options configures a MarkdownRenderer.
type Options struct {
	// HighlightStyle is the chroma style used for fenced code blocks.
	// Empty disables highlighting.
	HighlightStyle string
	// Unsafe lets raw HTML in documents through to the output.
	Unsafe bool
}

// MarkdownRenderer renders GitHub flavoured markdown. It is safe for
// concurrent use; goldmark keeps per-call state in the parser context.
type MarkdownRenderer struct {
	md goldmark.Markdown
}

// NewMarkdownRenderer creates a renderer with the given options.
func NewMarkdownRenderer(opts Options) *MarkdownRenderer {
	rendererOpts := []renderer.Option{}
	if opts.Unsafe {
		rendererOpts = append(rendererOpts, html.WithUnsafe())
	}
	if opts.HighlightStyle != "" {
		rendererOpts = append(rendererOpts, renderer.WithNodeRenderers(
			util.Prioritized(&codeBlockRenderer{style: opts.HighlightStyle}, 200),
		))
	}

	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(rendererOpts...),
		),
	}
}

// Render converts one markdown document to an HTML fragment.
func (r *MarkdownRenderer) Render(source []byte) (string, error) {
	if !utf8.Valid(source) {
		return "", fmt.Errorf("document is not valid UTF-8")
	}

	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// codeBlockRenderer replaces goldmark's fenced code block output with
// chroma highlighted HTML.
type codeBlockRenderer struct {
	style string
}

func (c *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, c.renderFencedCodeBlock)
}

func (c *codeBlockRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)

	var code bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		code.Write(line.Value(source))
	}

	language := string(n.Language(source))
	if err := quick.Highlight(w, code.String(), language, "html", c.style); err != nil {
		return ast.WalkStop, fmt.Errorf("highlighting %q block: %w", language, err)
	}
	return ast.WalkSkipChildren, nil
}
