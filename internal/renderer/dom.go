package renderer

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Node wraps a goquery selection of exactly one element.
type Node struct {
	sel *goquery.Selection
}

// NewNode wraps the first element of sel.
func NewNode(sel *goquery.Selection) *Node {
	return &Node{sel: sel.First()}
}

func (n *Node) Query(selector string) (Element, error) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	found := n.sel.FindMatcher(matcher)
	if found.Length() == 0 {
		return nil, nil
	}
	return NewNode(found), nil
}

func (n *Node) Text() (string, error) {
	return strings.TrimSpace(n.sel.Text()), nil
}

func (n *Node) Attribute(name string) (string, error) {
	v, _ := n.sel.Attr(name)
	return v, nil
}

// Selection exposes the underlying goquery selection.
func (n *Node) Selection() *goquery.Selection {
	return n.sel
}

// ElementsFromHTML parses html and returns every element matching selector.
func ElementsFromHTML(html, selector string) ([]Element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return queryDocument(doc, selector)
}

func queryDocument(doc *goquery.Document, selector string) ([]Element, error) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	var out []Element
	doc.FindMatcher(matcher).Each(func(_ int, s *goquery.Selection) {
		out = append(out, NewNode(s))
	})
	return out, nil
}
