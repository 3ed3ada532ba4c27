package cluster

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/saviobatista/dxcluster-proxy/internal/parser"
)

func TestLineBufferFeed(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "single line",
			chunks: []string{"DX de W3ABC: 14025.0 JA1XYZ CW 1234Z\r\n"},
			want:   []string{"DX de W3ABC: 14025.0 JA1XYZ CW 1234Z"},
		},
		{
			name:   "split across reads",
			chunks: []string{"DX de W3", "ABC: 14025.0 JA1XYZ", " CW 1234Z\r", "\n"},
			want:   []string{"DX de W3ABC: 14025.0 JA1XYZ CW 1234Z"},
		},
		{
			name:   "several lines in one read",
			chunks: []string{"first\r\nsecond\nthird\r\n"},
			want:   []string{"first", "second", "third"},
		},
		{
			name:   "blank lines dropped",
			chunks: []string{"\r\n\r\nhello\r\n  \r\n"},
			want:   []string{"hello"},
		},
		{
			name:   "bell characters trimmed",
			chunks: []string{"N0CALL de GB7DJK >\a\a\r\n"},
			want:   []string{"N0CALL de GB7DJK >"},
		},
		{
			name:   "bells mixed with carriage returns and spaces",
			chunks: []string{"\a DX de W3ABC: 14025.0 JA1XYZ CW 1234Z \a\r\a\r\n"},
			want:   []string{"DX de W3ABC: 14025.0 JA1XYZ CW 1234Z"},
		},
		{
			name:   "bell only line dropped",
			chunks: []string{"\a\a\r\nhello\r\n"},
			want:   []string{"hello"},
		},
		{
			name:   "partial line held",
			chunks: []string{"login: "},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b lineBuffer
			var got []string
			for _, chunk := range tt.chunks {
				got = append(got, b.feed([]byte(chunk))...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineBufferOverlongLineDiscarded(t *testing.T) {
	var b lineBuffer
	b.feed([]byte(strings.Repeat("x", maxLineLength+1)))
	if len(b.pending) != 0 {
		t.Fatalf("expected overlong pending data to be discarded, have %d bytes", len(b.pending))
	}
	got := b.feed([]byte("ok\r\n"))
	if len(got) != 1 || got[0] != "ok" {
		t.Errorf("unexpected lines after discard: %q", got)
	}
}

func TestLineBufferBellSuffixedSpotParses(t *testing.T) {
	var b lineBuffer
	lines := b.feed([]byte("DX de W3ABC:     14025.0  JA1XYZ       CW 599   1234Z\a\a\r\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %q", lines)
	}

	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	spot, err := parser.ParseSpot(lines[0], now)
	if err != nil {
		t.Fatalf("ParseSpot() error = %v", err)
	}
	if spot.Time != "12:34z" {
		t.Errorf("Time = %q, want 12:34z", spot.Time)
	}
	if spot.Comment != "CW 599" {
		t.Errorf("Comment = %q, want %q", spot.Comment, "CW 599")
	}
	if spot.Mode != "CW" {
		t.Errorf("Mode = %q, want CW", spot.Mode)
	}
}
