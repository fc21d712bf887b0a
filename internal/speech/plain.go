// Package speech flattens model replies into text a TTS engine can read
// aloud. Models like to answer in markdown; asterisks, hashes and link
// syntax would otherwise be spoken literally.
package speech

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var md = goldmark.New()

// Plain renders s as markdown and returns only its visible text, with
// blocks and list items joined by single spaces.
func Plain(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// Angle brackets are text to be spoken, not inline HTML.
	src := strings.ReplaceAll(s, "<", "&lt;")

	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return s
	}

	nodes, err := html.ParseFragment(&buf, &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"})
	if err != nil {
		return s
	}

	var w strings.Builder
	for _, n := range nodes {
		collect(n, &w)
	}
	out := strings.Join(strings.Fields(w.String()), " ")
	if out == "" {
		return s
	}
	return out
}

func collect(n *html.Node, w *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		w.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, w)
	}

	if n.Type == html.ElementNode && separates(n.DataAtom) {
		w.WriteString(" ")
	}
}

// separates reports elements whose end must not glue onto the next word.
func separates(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Li, atom.Br, atom.Div, atom.Blockquote, atom.Pre,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Tr, atom.Td, atom.Th, atom.Hr:
		return true
	}
	return false
}
