package textnorm

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"punctuation and stop words", "The VPN is DOWN!! Can't connect to it.", "vpn down can connect"},
		{"drops short tokens", "my pc is on fire", "fire"},
		{"collapses whitespace", "printer\t\tjammed\n\nagain", "printer jammed again"},
		{"keeps underscores and digits", "error_code 500 on host42", "error_code 500 host42"},
		{"non ascii letters split", "café printer", "caf printer"},
		{"only stop words", "the and or but", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Outlook keeps crashing when I open attachments!!!",
		"Payroll: my salary for March is missing (again)",
		"",
		"a b c",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", []string{}},
		{"frequency order", "printer jammed printer offline printer jammed", []string{"printer", "jammed", "offline"}},
		{"ties keep first seen order", "network outage floor three", []string{"network", "outage", "floor", "three"}},
		{"domain terms under four chars", "vpn bug and wifi slow", []string{"vpn", "bug", "wifi", "slow"}},
		{"drops short non domain terms", "new pin for box", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ExtractKeywords(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractKeywords_CapsAtTen(t *testing.T) {
	input := "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima"
	got := ExtractKeywords(input)
	if len(got) != MaxKeywords {
		t.Fatalf("expected %d keywords, got %d", MaxKeywords, len(got))
	}
	if got[0] != "alpha" || got[9] != "juliet" {
		t.Errorf("expected first-seen order to be kept, got %v", got)
	}
}

func TestExtractKeywords_Distinct(t *testing.T) {
	got := ExtractKeywords("laptop laptop laptop screen screen")
	seen := make(map[string]bool)
	for _, k := range got {
		if seen[k] {
			t.Errorf("duplicate keyword %q in %v", k, got)
		}
		seen[k] = true
	}
}

func TestIsStopWord(t *testing.T) {
	if !IsStopWord("the") {
		t.Error("expected 'the' to be a stop word")
	}
	if IsStopWord("printer") {
		t.Error("expected 'printer' not to be a stop word")
	}
}
