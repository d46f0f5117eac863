package main

import (
	"testing"
	"time"
)

func TestParseDue(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-10", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		{" 2024-05-10 ", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		{"2024-05-10T09:30:00+02:00", time.Date(2024, 5, 10, 7, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseDue(tc.in)
		if err != nil {
			t.Fatalf("parseDue(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseDue(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := parseDue("next week"); err == nil {
		t.Fatalf("expected error for free-form date")
	}
}

func TestFormatDue(t *testing.T) {
	if got := formatDue(nil); got != "" {
		t.Fatalf("formatDue(nil) = %q", got)
	}
	d := time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)
	if got := formatDue(&d); got != "2024-05-10" {
		t.Fatalf("formatDue = %q", got)
	}
}
