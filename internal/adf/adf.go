// Package adf models the subset of Atlassian Document Format needed to
// inspect Jira comment bodies: deciding whether a comment structurally
// mentions a given account, and flattening a body to plain text for the
// model's visible input.
package adf

import (
	"encoding/json"
	"strings"
)

// Node types this package cares about. Anything else is treated as a
// container and only its children are inspected.
const (
	TypeText      = "text"
	TypeMention   = "mention"
	TypeHardBreak = "hardBreak"
	TypeParagraph = "paragraph"
	TypeDoc       = "doc"
)

// Attrs holds the node attributes relevant to mentions.
type Attrs struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Node is one ADF node. Unknown node types keep their children in Content,
// so traversal works at arbitrary depth without enumerating every type.
type Node struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Attrs   Attrs  `json:"attrs,omitempty"`
	Content Body   `json:"content,omitempty"`
}

// Body is a list of nodes that tolerates both a single JSON object and a
// JSON array on the wire. Webhook payloads deliver either shape depending
// on the producing client.
type Body []Node

func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*b = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var nodes []Node
		if err := json.Unmarshal(data, &nodes); err != nil {
			return err
		}
		*b = nodes
		return nil
	}
	var single Node
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*b = Body{single}
	return nil
}

// ContainsMention reports whether any mention node in the body, at any
// nesting depth, targets the given account id.
func ContainsMention(body Body, accountID string) bool {
	for _, n := range body {
		if n.Type == TypeMention && n.Attrs.ID == accountID {
			return true
		}
		if ContainsMention(n.Content, accountID) {
			return true
		}
	}
	return false
}

// PlainText flattens the body to plain text: text nodes are concatenated,
// mention nodes contribute their display text, hard breaks become newlines,
// and paragraphs are separated by newlines.
func PlainText(body Body) string {
	var sb strings.Builder
	writePlainText(&sb, body)
	return strings.TrimRight(sb.String(), "\n")
}

func writePlainText(sb *strings.Builder, body Body) {
	for _, n := range body {
		switch n.Type {
		case TypeText:
			sb.WriteString(n.Text)
		case TypeMention:
			sb.WriteString(n.Attrs.Text)
		case TypeHardBreak:
			sb.WriteString("\n")
		case TypeParagraph:
			writePlainText(sb, n.Content)
			sb.WriteString("\n")
		default:
			writePlainText(sb, n.Content)
		}
	}
}
