package jsonblock

import (
	"errors"
	"testing"
)

func TestExtractFencedBlock(t *testing.T) {
	text := "Here is the evaluation:\n```json\n{\"score\": 85}\n```\nDone."
	raw, err := Extract(text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(raw) != `{"score": 85}` {
		t.Errorf("raw = %q", raw)
	}
}

func TestExtractUnlabeledFence(t *testing.T) {
	text := "```\n{\"score\": 42}\n```"
	raw, err := Extract(text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(raw) != `{"score": 42}` {
		t.Errorf("raw = %q", raw)
	}
}

func TestExtractBareObject(t *testing.T) {
	text := `The model says {"reasoning": "a {nested} brace in \"text\"", "score": 70} and more.`
	raw, err := Extract(text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var out struct {
		Reasoning string `json:"reasoning"`
		Score     int    `json:"score"`
	}
	if err := Decode(string(raw), &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Score != 70 {
		t.Errorf("score = %d, want 70", out.Score)
	}
	if out.Reasoning != `a {nested} brace in "text"` {
		t.Errorf("reasoning = %q", out.Reasoning)
	}
}

func TestExtractNested(t *testing.T) {
	text := `{"ruleChecks": {"no_refunds": {"passed": true}}}`
	raw, err := Extract(text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(raw) != text {
		t.Errorf("nested object truncated: %q", raw)
	}
}

func TestExtractNoJSON(t *testing.T) {
	_, err := Extract("I could not produce an evaluation.")
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("err = %v, want ErrNoJSON", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	var v map[string]any
	err := Decode("```json\n{\"score\": }\n```", &v)
	if err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
	if errors.Is(err, ErrNoJSON) {
		t.Fatal("malformed JSON should not report ErrNoJSON")
	}
}
