package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// NormalizeSpace trims the string and collapses every run of whitespace into
// a single space, the same as xpath's normalize-space().
func NormalizeSpace(s string) string {
	s = removeNonPrintable(s)
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(s, " "))
}

// Snippet returns the first n runes of the normalized visible text of a
// document, used to give log lines some context about the page.
func Snippet(doc *goquery.Document, n int) string {
	if doc == nil {
		return ""
	}
	var text string
	body := doc.Find("body")
	if body.Length() > 0 {
		text = NormalizeSpace(GetText(body.Nodes[0]))
	} else if len(doc.Nodes) > 0 {
		text = NormalizeSpace(GetText(doc.Nodes[0]))
	}
	runes := []rune(text)
	if len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return text
}

type Anchor struct {
	Name string
	Url  *url.URL
}

// GetAnchors returns the anchors in sel with their href resolved against base,
// anchors with unparsable or missing hrefs are skipped.
func GetAnchors(base *url.URL, sel *goquery.Selection) []Anchor {
	anchors := []Anchor{}
	for _, n := range sel.Nodes {
		href := ""
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = a.Val
				break
			}
		}
		if href == "" {
			continue
		}

		link, err := url.Parse(href)
		if err != nil {
			continue
		}
		if base != nil {
			link = base.ResolveReference(link)
		}

		anchors = append(anchors, Anchor{
			Name: NormalizeSpace(GetText(n)),
			Url:  link,
		})
	}
	return anchors
}

// documentOrder flattens the tree under root in document order, end[i] is the
// index of the last descendant of nodes[i].
func documentOrder(root *html.Node) (nodes []*html.Node, end []int) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		idx := len(nodes)
		nodes = append(nodes, n)
		end = append(end, idx)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		end[idx] = len(nodes) - 1
	}
	walk(root)
	return nodes, end
}

// FollowingElement finds the first element with the given tag name that comes
// after (and outside of) an element whose normalized text contains label.
// It behaves like the first match of the xpath
// `//*[contains(normalize-space(), label)]/following::tag[1]`.
func FollowingElement(doc *goquery.Document, label, tag string) *html.Node {
	if doc == nil || len(doc.Nodes) == 0 {
		return nil
	}
	nodes, end := documentOrder(doc.Nodes[0])
	best := -1
	for i, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		if !strings.Contains(NormalizeSpace(GetText(n)), label) {
			continue
		}
		for j := end[i] + 1; j < len(nodes); j++ {
			if best >= 0 && j >= best {
				break
			}
			candidate := nodes[j]
			if candidate.Type == html.ElementNode && candidate.Data == tag {
				best = j
				break
			}
		}
	}
	if best < 0 {
		return nil
	}
	return nodes[best]
}

// Attr returns the value of the attribute key of n, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
