package dom

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func isElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func hasClass(n *html.Node, class string) bool {
	raw, ok := getAttr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(raw) {
		if c == class {
			return true
		}
	}
	return false
}

// textContent concatenates all descendant text nodes, document order.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// isDescendant reports whether n sits somewhere under root (n == root counts).
func isDescendant(root, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}

func prevElementSibling(n *html.Node) *html.Node {
	for cur := n.PrevSibling; cur != nil; cur = cur.PrevSibling {
		if isElement(cur) {
			return cur
		}
	}
	return nil
}

func nextElementSibling(n *html.Node) *html.Node {
	for cur := n.NextSibling; cur != nil; cur = cur.NextSibling {
		if isElement(cur) {
			return cur
		}
	}
	return nil
}

func newElement(tag string, attrs map[string]string) *html.Node {
	node := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}

	// Sorted so rendered output is deterministic.
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node.Attr = append(node.Attr, html.Attribute{Key: name, Val: attrs[name]})
	}
	return node
}

func detachNode(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func removeAllChildren(n *html.Node) []*html.Node {
	var removed []*html.Node
	for n.FirstChild != nil {
		child := n.FirstChild
		n.RemoveChild(child)
		removed = append(removed, child)
	}
	return removed
}
