package storage

import (
	"testing"
	"time"
)

func TestClampDelta(t *testing.T) {
	cases := []struct {
		name    string
		current Statistics
		in      Delta
		want    Delta
	}{
		{"increment", Statistics{}, Delta{OnlineUsers: 1}, Delta{OnlineUsers: 1}},
		{"decrement at zero", Statistics{}, Delta{OnlineUsers: -1}, Delta{}},
		{"decrement above zero", Statistics{OnlineUsers: 3}, Delta{OnlineUsers: -1}, Delta{OnlineUsers: -1}},
		{"decrement with download", Statistics{}, Delta{OnlineUsers: -1, Downloads: 1}, Delta{Downloads: 1}},
		{"over-decrement", Statistics{OnlineUsers: 2}, Delta{OnlineUsers: -5}, Delta{OnlineUsers: -2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClampDelta(tc.current, tc.in); got != tc.want {
				t.Fatalf("ClampDelta = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDeltaIsZero(t *testing.T) {
	if !(Delta{}).IsZero() {
		t.Fatal("empty delta should be zero")
	}
	if (Delta{Downloads: 1}).IsZero() {
		t.Fatal("download delta should not be zero")
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2023, 5, 6, 7, 8, 9, 0, time.Local)
	if got := FormatTimestamp(ts); got != "2023-05-06 07:08:09" {
		t.Fatalf("FormatTimestamp = %q", got)
	}
}

func TestReportKindValid(t *testing.T) {
	for _, k := range []ReportKind{ReportBug, ReportError, ReportOther} {
		if !k.Valid() {
			t.Fatalf("%s should be valid", k)
		}
	}
	if ReportKind("Panic").Valid() {
		t.Fatal("unexpected kind accepted")
	}
}
