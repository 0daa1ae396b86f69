package notes

import (
	"bytes"
	"fmt"
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	noteStyle  = "position:absolute;left:%spx;top:%spx;background:%s;user-select:none;box-shadow:0 0 1em var(--shadow-color);border:1px solid #c36;font-size:14px;padding:0.5em 1em;max-width:52ex"
	closeStyle = "position:absolute;top:0;right:0;background:%s;border:0;cursor:pointer;color:#c36"
	textStyle  = "white-space:pre-line"
)

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Render draws the notes as absolutely positioned panels, in display order.
func (b *Board) Render() (string, error) {
	root := element(atom.Div, "class", "postits")
	for _, n := range b.Notes() {
		aside := element(atom.Aside,
			"data-id", n.ID,
			"style", fmt.Sprintf(noteStyle, px(n.X), px(n.Y), n.Color),
		)
		button := element(atom.Button,
			"aria-label", "discard",
			"data-close", n.ID,
			"style", fmt.Sprintf(closeStyle, n.Color),
		)
		button.AppendChild(&html.Node{Type: html.TextNode, Data: "×"})
		pre := element(atom.Pre, "style", textStyle)
		pre.AppendChild(&html.Node{Type: html.TextNode, Data: n.Text})
		aside.AppendChild(button)
		aside.AppendChild(pre)
		root.AppendChild(aside)
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("render notes: %w", err)
	}
	return buf.String(), nil
}
