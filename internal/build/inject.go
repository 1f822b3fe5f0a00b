package build

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ReloadScript opens the live-reload stream and refreshes the page on every
// reload event.
const ReloadScript = `new EventSource("/__sse__").addEventListener("reload", function () { location.reload(); });`

// InjectReloadScript appends the live-reload client to the document body.
// Documents without a body get one from the HTML5 parser.
func InjectReloadScript(document string) (string, error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", err
	}

	body := findElement(root, atom.Body)
	if body == nil {
		return document, nil
	}

	script := &html.Node{Type: html.ElementNode, Data: "script", DataAtom: atom.Script}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: ReloadScript})
	body.AppendChild(script)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
