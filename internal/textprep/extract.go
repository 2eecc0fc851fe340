// Package textprep prepares source-record content for embedding: it extracts
// plain text from structured content trees and splits it into bounded,
// overlapping chunks.
package textprep

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Node is one node of a structured content tree (the rich-text document
// format policies are authored in). Leaf text lives in Text; container nodes
// carry Content.
type Node struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Content []Node `json:"content,omitempty"`
}

// Node types recognized by the extractor. Unknown types recurse into their
// children; unrecognized leaves contribute nothing.
const (
	NodeText        = "text"
	NodeParagraph   = "paragraph"
	NodeHeading     = "heading"
	NodeBulletList  = "bulletList"
	NodeOrderedList = "orderedList"
	NodeListItem    = "listItem"
)

// ParseContent decodes a JSON-encoded content tree.
func ParseContent(raw []byte) ([]Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var nodes []Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		// Single-document form: one root node instead of an array.
		var single Node
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, fmt.Errorf("parsing content tree: %w", err)
		}
		nodes = []Node{single}
	}
	return nodes, nil
}

// ExtractText walks a content tree and renders it as plain text, one line per
// block-level node. Bulleted list items are prefixed with a bullet, ordered
// list items with an incrementing number.
func ExtractText(nodes []Node) string {
	var lines []string
	for _, node := range nodes {
		extractNode(node, &lines)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractNode(node Node, lines *[]string) {
	switch node.Type {
	case NodeParagraph, NodeHeading:
		if text := inlineText(node.Content); text != "" {
			*lines = append(*lines, text)
		}
	case NodeBulletList:
		for _, item := range node.Content {
			if text := blockText(item); text != "" {
				*lines = append(*lines, "• "+text)
			}
		}
	case NodeOrderedList:
		n := 1
		for _, item := range node.Content {
			if text := blockText(item); text != "" {
				*lines = append(*lines, fmt.Sprintf("%d. %s", n, text))
				n++
			}
		}
	case NodeText:
		if node.Text != "" {
			*lines = append(*lines, node.Text)
		}
	default:
		// Unknown container: recurse. Unknown leaf: nothing to emit.
		for _, child := range node.Content {
			extractNode(child, lines)
		}
	}
}

// inlineText concatenates the leaf text runs of an inline node list.
func inlineText(nodes []Node) string {
	var sb strings.Builder
	for _, node := range nodes {
		if node.Type == NodeText {
			sb.WriteString(node.Text)
			continue
		}
		sb.WriteString(inlineText(node.Content))
	}
	return strings.TrimSpace(sb.String())
}

// blockText flattens a block node (typically a listItem wrapping paragraphs)
// into a single line.
func blockText(node Node) string {
	var lines []string
	extractNode(node, &lines)
	return strings.TrimSpace(strings.Join(lines, " "))
}
