package inference

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// commandChild is one flat child element under the root command, e.g.
// <path>...</path> inside <text_edit>.
type commandChild struct {
	Name    string
	Content string
}

// commandInvocation is the decoded shape of one positron-style XML
// command: a single root element, optionally with attributes, a body,
// and flat (non-nested) children.
type commandInvocation struct {
	Name       string
	Attributes map[string]string
	Body       string
	Children   []commandChild
}

type xmlNode struct {
	name     string
	attrs    map[string]string
	text     strings.Builder
	children []*xmlNode
}

// parseCommandXML strictly parses a single XML root element, rejecting
// multiple roots and any non-whitespace trailing content, grounded on
// the original implementation's hand-rolled streaming parser.
func parseCommandXML(payload string) (*commandInvocation, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, fmt.Errorf("empty response")
	}

	dec := xml.NewDecoder(strings.NewReader(trimmed))
	dec.Strict = true

	var stack []*xmlNode
	var root *xmlNode

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local, attrs: make(map[string]string)}
			for _, a := range t.Attr {
				node.attrs[a.Name.Local] = a.Value
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected closing tag")
			}
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			} else {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements detected")
				}
				root = node
			}
		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return nil, fmt.Errorf("unexpected text outside root element")
				}
				continue
			}
			stack[len(stack)-1].text.Write(t)
		}

		if root != nil {
			// Reject any further non-whitespace content after the root closes.
			for {
				tok, err := dec.Token()
				if err == io.EOF {
					break
				}
				if err != nil {
					return nil, fmt.Errorf("invalid trailing XML: %w", err)
				}
				if cd, ok := tok.(xml.CharData); ok {
					if strings.TrimSpace(string(cd)) != "" {
						return nil, fmt.Errorf("unexpected trailing content after command invocation")
					}
					continue
				}
				if _, ok := tok.(xml.Comment); ok {
					continue
				}
				if _, ok := tok.(xml.ProcInst); ok {
					continue
				}
				return nil, fmt.Errorf("unexpected trailing XML after command invocation")
			}
			break
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("unbalanced XML tags")
	}
	if root == nil {
		return nil, fmt.Errorf("no XML element found")
	}

	inv := &commandInvocation{Name: root.name, Attributes: root.attrs}
	if body := strings.TrimSpace(root.text.String()); body != "" {
		inv.Body = body
	}
	for _, c := range root.children {
		if len(c.children) > 0 {
			return nil, fmt.Errorf("nested child elements are not supported")
		}
		inv.Children = append(inv.Children, commandChild{Name: c.name, Content: strings.TrimSpace(c.text.String())})
	}
	return inv, nil
}
