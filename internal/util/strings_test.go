package util

import (
	"reflect"
	"testing"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "only separators", input: " , ,, ", expected: nil},
		{name: "trimmed values", input: " id , name ,ts", expected: []string{"id", "name", "ts"}},
		{name: "inner spaces kept", input: "Column A, Column B", expected: []string{"Column A", "Column B"}},
		{name: "single quoted comma", input: "'eu,west',2024", expected: []string{"eu,west", "2024"}},
		{name: "double quoted", input: `"a b", c`, expected: []string{"a b", "c"}},
		{name: "quoted spaces kept", input: "' x ',y", expected: []string{" x ", "y"}},
		{name: "space after quote", input: "'a' , b", expected: []string{"a", "b"}},
		{name: "unterminated quote", input: "'a,b", expected: []string{"a,b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SplitCSV(tt.input)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("SplitCSV(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
