// Package normalize converts raw provider content payloads into plain text.
//
// The agent runtime relays assistant output from multiple LLM providers
// without reshaping it, so the same logical payload arrives in several
// forms: a plain JSON string (OpenAI), an array of typed content blocks
// (Anthropic, Gemini), or a reasoning-trace array with per-provider field
// names. These functions pattern match on field presence rather than
// branching on a provider flag, because identical shapes arise from more
// than one provider and new providers appear over time.
//
// Both functions are pure and never fail: any unexpected shape normalizes
// to the empty result. They are used on two paths — live streaming (by the
// stream assembler, per delta) and historical replay (by the turn archive,
// against stored finalized payloads).
package normalize

import (
	"encoding/json"
	"strings"

	"agtui/wire"
)

// Content converts a raw content payload into plain text.
//
// Accepted shapes:
//   - absent/null → ""
//   - plain JSON string → returned as-is
//   - array of content blocks → textual blocks concatenated in array order
//
// A block is textual when its type is "text" or "text_delta", or when it
// carries a non-empty text or thinking field. Block text prefers the text
// field and falls back to content. The literal string "undefined" is treated
// as empty wherever it appears — the transport has been observed to
// serialize a missing value into that literal.
func Content(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "undefined" {
			return ""
		}
		return s
	}

	var blocks []wire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	var b strings.Builder
	for _, block := range blocks {
		if !isTextual(block) {
			continue
		}
		text := block.Text
		if text == "" {
			text = block.Content
		}
		if text == "" || text == "undefined" {
			continue
		}
		b.WriteString(text)
	}
	return b.String()
}

func isTextual(block wire.ContentBlock) bool {
	switch block.Type {
	case "text", "text_delta":
		return true
	}
	return block.Text != "" || block.Thinking != ""
}

// Thinking extracts reasoning-trace text from a thinking payload. The second
// return value is false when the payload is absent, not an array, or yields
// no text.
//
// Per-block extraction order: the thinking field (Claude), then the text
// field (OpenAI/Gemini), then a summary array whose items are joined with
// newlines. Empty extractions are dropped; the remainder is concatenated
// with no separator.
func Thinking(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var blocks []wire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", false
	}

	var parts []string
	for _, block := range blocks {
		text := thinkingText(block)
		if text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, ""), true
}

func thinkingText(block wire.ContentBlock) string {
	if block.Thinking != "" {
		return block.Thinking
	}
	if block.Text != "" {
		return block.Text
	}
	if len(block.Summary) > 0 {
		var items []string
		for _, item := range block.Summary {
			text := item.Text
			if text == "" {
				text = item.Content
			}
			if text != "" {
				items = append(items, text)
			}
		}
		return strings.Join(items, "\n")
	}
	return ""
}
