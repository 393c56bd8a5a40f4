package main

import (
	"strings"
	"testing"
)

func TestRenderTableSpecKeepsFooterCase(t *testing.T) {
	out := renderTableSpec(tableSpec{
		Headers: []string{"ID", "Student"},
		Rows:    [][]string{{"1", "Ada Park"}},
		Aligns:  []columnAlignment{alignRight},
		Footer:  []string{"", "1 present / 0 absent / 0 unseen"},
	})
	if !strings.Contains(out, "1 present / 0 absent / 0 unseen") {
		t.Fatalf("footer case changed:\n%s", out)
	}
	if !strings.Contains(out, "Ada Park") {
		t.Fatalf("row missing:\n%s", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected trailing newline, got %q", out)
	}
}

func TestRenderTableSpecWithoutHeaders(t *testing.T) {
	if out := renderTableSpec(tableSpec{}); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}
