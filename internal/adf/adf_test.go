package adf

import (
	"encoding/json"
	"testing"
)

func mustBody(t *testing.T, raw string) Body {
	t.Helper()
	var b Body
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("unmarshaling body: %v", err)
	}
	return b
}

func TestContainsMention_TopLevel(t *testing.T) {
	body := mustBody(t, `[{"type":"mention","attrs":{"id":"u-1","text":"@stagehand"}}]`)

	if !ContainsMention(body, "u-1") {
		t.Error("expected mention of u-1 to be found")
	}
	if ContainsMention(body, "u-2") {
		t.Error("did not expect mention of u-2")
	}
}

func TestContainsMention_DeeplyNested(t *testing.T) {
	body := mustBody(t, `{
		"type": "doc",
		"content": [
			{"type": "paragraph", "content": [
				{"type": "text", "text": "hey "},
				{"type": "bulletList", "content": [
					{"type": "listItem", "content": [
						{"type": "paragraph", "content": [
							{"type": "mention", "attrs": {"id": "u-1", "text": "@stagehand"}}
						]}
					]}
				]}
			]}
		]
	}`)

	if !ContainsMention(body, "u-1") {
		t.Error("expected deeply nested mention to be found")
	}
}

func TestContainsMention_NoMentionNode(t *testing.T) {
	// Plain-text occurrence of the name is not a structural mention.
	body := mustBody(t, `[{"type":"paragraph","content":[{"type":"text","text":"ping @stagehand please"}]}]`)

	if ContainsMention(body, "u-1") {
		t.Error("plain text must not count as a structural mention")
	}
}

func TestBodyUnmarshal_SingleNode(t *testing.T) {
	body := mustBody(t, `{"type":"text","text":"hello"}`)

	if len(body) != 1 || body[0].Text != "hello" {
		t.Errorf("got %+v, want single text node", body)
	}
}

func TestPlainText(t *testing.T) {
	body := mustBody(t, `{
		"type": "doc",
		"content": [
			{"type": "paragraph", "content": [
				{"type": "mention", "attrs": {"id": "u-1", "text": "@stagehand"}},
				{"type": "text", "text": " take a look"},
				{"type": "hardBreak"},
				{"type": "text", "text": "at this"}
			]},
			{"type": "paragraph", "content": [
				{"type": "text", "text": "thanks"}
			]}
		]
	}`)

	want := "@stagehand take a look\nat this\nthanks"
	if got := PlainText(body); got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestPlainText_Empty(t *testing.T) {
	if got := PlainText(nil); got != "" {
		t.Errorf("PlainText(nil) = %q, want empty", got)
	}
}
