// Package parser turns raw trading-partner XML into canonical documents.
//
// Elements are located by local name only: partners emit the same logical
// field under inconsistent (or absent) namespace prefixes, so lookups drop
// the namespace entirely. Missing elements coerce to empty strings rather
// than errors; the only failure a parser can report is non-well-formed XML.
package parser

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"edigate/internal/domain"
)

// ParseError reports input that is not well-formed XML.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "malformed xml: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParsePurchaseOrder extracts the canonical 850. Scalar lookup is
// first-match across the whole document, not scoped to any ancestor.
func ParsePurchaseOrder(raw string) (domain.PurchaseOrder, error) {
	root, err := parse(raw)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return domain.PurchaseOrder{
		PONumber: root.scalar("poNumber"),
		Status:   domain.StatusParsedPO,
	}, nil
}

// ParseShipmentNotice extracts the canonical 856. Header scalars are
// document-wide first matches; items are walked in document order with
// per-item lookups scoped to that item's subtree, so two items with
// same-named children never collide.
func ParseShipmentNotice(raw string) (domain.ShipmentNotice, error) {
	root, err := parse(raw)
	if err != nil {
		return domain.ShipmentNotice{}, err
	}
	items := []domain.ShipmentItem{}
	for _, item := range root.findAll("item") {
		items = append(items, domain.ShipmentItem{
			SKU:      item.scalar("itemIdentifier"),
			Quantity: item.scalar("quantityShipped"),
		})
	}
	return domain.ShipmentNotice{
		ShipmentNumber: root.scalar("shipmentIdentificationNumber"),
		PONumber:       root.scalar("poNumber"),
		Items:          items,
		Status:         domain.StatusParsedASN,
	}, nil
}

// node is a minimal element tree holding local names and character data.
type node struct {
	name     string
	text     strings.Builder
	children []*node
}

// parse tokenizes the whole input, requiring a single root element with
// nothing but whitespace around it. The tokenizer itself emits sibling
// roots and top-level text without complaint, so both are rejected here.
func parse(raw string) (*node, error) {
	dec := xml.NewDecoder(strings.NewReader(raw))
	root := &node{}
	stack := []*node{root}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 1 && len(root.children) > 0 {
				return nil, &ParseError{Err: errors.New("multiple root elements")}
			}
			n := &node{name: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 1 {
				if strings.TrimSpace(string(t)) != "" {
					return nil, &ParseError{Err: errors.New("text outside root element")}
				}
				continue
			}
			stack[len(stack)-1].text.Write(t)
		}
	}
	if len(root.children) == 0 {
		return nil, &ParseError{Err: errors.New("document has no root element")}
	}
	return root, nil
}

// find returns the first descendant with the given local name, in
// document (pre-)order.
func (n *node) find(local string) *node {
	for _, c := range n.children {
		if c.name == local {
			return c
		}
		if m := c.find(local); m != nil {
			return m
		}
	}
	return nil
}

// findAll returns every descendant with the given local name in document
// order, nested matches included.
func (n *node) findAll(local string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == local {
			out = append(out, c)
		}
		out = append(out, c.findAll(local)...)
	}
	return out
}

// scalar is the total, default-valued accessor: the text value of the
// first matching descendant, or "" when none exists.
func (n *node) scalar(local string) string {
	m := n.find(local)
	if m == nil {
		return ""
	}
	return m.value()
}

// value concatenates all character data beneath the element, document
// order, matching XPath string() semantics.
func (n *node) value() string {
	var b strings.Builder
	n.writeValue(&b)
	return b.String()
}

func (n *node) writeValue(b *strings.Builder) {
	b.WriteString(n.text.String())
	for _, c := range n.children {
		c.writeValue(b)
	}
}
