package webpage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regreport/pkg/htmlutil"
	"strings"

	"golang.org/x/net/html"
)

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func inputType(n *html.Node) string {
	t := strings.ToLower(htmlutil.Attr(n, "type"))
	if t == "" {
		return "text"
	}
	return t
}

// visible reports whether n would be rendered, judged from markup alone.
func visible(n *html.Node) bool {
	if n.Data == "input" && inputType(n) == "hidden" {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if hasAttr(cur, "hidden") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(htmlutil.Attr(cur, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func options(sel *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "option" {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(sel)
	return out
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return htmlutil.Attr(opt, "value")
	}
	return htmlutil.NormalizeSpace(htmlutil.GetText(opt))
}

func selectedValue(sel *html.Node) string {
	opts := options(sel)
	for _, opt := range opts {
		if hasAttr(opt, "selected") {
			return optionValue(opt)
		}
	}
	if len(opts) > 0 {
		return optionValue(opts[0])
	}
	return ""
}

func isSubmitter(n *html.Node) bool {
	switch n.Data {
	case "button":
		t := strings.ToLower(htmlutil.Attr(n, "type"))
		return t == "" || t == "submit"
	case "input":
		t := inputType(n)
		return t == "submit" || t == "image"
	}
	return false
}

func closestForm(n *html.Node) *html.Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && cur.Data == "form" {
			return cur
		}
	}
	return nil
}

func controls(form *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				switch c.Data {
				case "input", "select", "textarea", "button":
					out = append(out, c)
				}
			}
			walk(c)
		}
	}
	walk(form)
	return out
}

// formValues collects what a browser would send for form, submitter is the
// control that triggered the submission, if any.
func (p *Page) formValues(form, submitter *html.Node) url.Values {
	values := url.Values{}
	for _, c := range controls(form) {
		name := htmlutil.Attr(c, "name")
		if name == "" || hasAttr(c, "disabled") {
			continue
		}

		switch c.Data {
		case "button":
			if c == submitter {
				values.Add(name, htmlutil.Attr(c, "value"))
			}
		case "select", "textarea":
			values.Add(name, p.valueOf(c))
		case "input":
			switch inputType(c) {
			case "submit", "image", "button", "reset":
				if c == submitter {
					values.Add(name, htmlutil.Attr(c, "value"))
				}
			case "checkbox", "radio":
				if hasAttr(c, "checked") {
					v := htmlutil.Attr(c, "value")
					if v == "" {
						v = "on"
					}
					values.Add(name, v)
				}
			case "file":
			default:
				values.Add(name, p.valueOf(c))
			}
		}
	}
	return values
}

func (p *Page) submit(ctx context.Context, form, submitter *html.Node) error {
	method := strings.ToUpper(htmlutil.Attr(form, "method"))
	action := htmlutil.Attr(form, "action")
	if submitter != nil {
		if v := htmlutil.Attr(submitter, "formmethod"); v != "" {
			method = strings.ToUpper(v)
		}
		if v := htmlutil.Attr(submitter, "formaction"); v != "" {
			action = v
		}
	}
	if method == "" {
		method = http.MethodGet
	}

	target := p.url
	if action != "" {
		resolved, err := p.resolve(action)
		if err != nil {
			return fmt.Errorf("form action %q: %w", action, err)
		}
		target = resolved
	}
	if target == nil {
		return fmt.Errorf("submit: no page loaded")
	}

	values := p.formValues(form, submitter)
	req := p.http.R().SetContext(ctx)

	if method == http.MethodPost {
		res, err := req.SetFormDataFromValues(values).Post(target.String())
		if err != nil {
			return err
		}
		return p.load(res)
	}

	withQuery := *target
	withQuery.RawQuery = values.Encode()
	res, err := req.Get(withQuery.String())
	if err != nil {
		return err
	}
	return p.load(res)
}
