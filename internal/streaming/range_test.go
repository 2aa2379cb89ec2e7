package streaming

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name   string
		header string
		size   int64
		want   ByteRange
	}{
		{"first byte", "bytes=0-0", 100, ByteRange{0, 0}},
		{"prefix", "bytes=0-49", 100, ByteRange{0, 49}},
		{"middle", "bytes=10-19", 100, ByteRange{10, 19}},
		{"open end", "bytes=50-", 100, ByteRange{50, 99}},
		{"suffix", "bytes=-10", 100, ByteRange{90, 99}},
		{"suffix larger than file", "bytes=-200", 100, ByteRange{0, 99}},
		{"end clamped", "bytes=0-999", 100, ByteRange{0, 99}},
		{"whitespace tolerated", "bytes= 5 - 9 ", 100, ByteRange{5, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)
			if err != nil {
				t.Fatalf("ParseRange(%q, %d): %v", tt.header, tt.size, err)
			}
			if got != tt.want {
				t.Fatalf("ParseRange(%q, %d) = %+v, want %+v", tt.header, tt.size, got, tt.want)
			}
		})
	}
}

func TestParseRangeErrors(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		size    int64
		wantErr error
	}{
		{"empty header", "", 100, ErrInvalidRange},
		{"wrong unit", "items=0-1", 100, ErrInvalidRange},
		{"no dash", "bytes=5", 100, ErrInvalidRange},
		{"start at size", "bytes=100-", 100, ErrInvalidRange},
		{"start past size", "bytes=101-200", 100, ErrInvalidRange},
		{"end before start", "bytes=5-2", 100, ErrInvalidRange},
		{"zero suffix", "bytes=-0", 100, ErrInvalidRange},
		{"negative suffix", "bytes=--5", 100, ErrInvalidRange},
		{"garbage start", "bytes=abc-", 100, ErrInvalidRange},
		{"empty both sides", "bytes=-", 100, ErrInvalidRange},
		{"empty resource", "bytes=0-", 0, ErrInvalidRange},
		{"multi range", "bytes=0-0,5-9", 100, ErrMultiRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRange(tt.header, tt.size)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseRange(%q, %d) err = %v, want %v", tt.header, tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestByteRangeLength(t *testing.T) {
	if got := (ByteRange{0, 0}).Length(); got != 1 {
		t.Fatalf("Length = %d, want 1", got)
	}
	if got := (ByteRange{10, 19}).Length(); got != 10 {
		t.Fatalf("Length = %d, want 10", got)
	}
}

func TestContentRangeFormat(t *testing.T) {
	if got := ContentRange(ByteRange{0, 65535}, 1048576); got != "bytes 0-65535/1048576" {
		t.Fatalf("ContentRange = %q", got)
	}
	if got := UnsatisfiableRange(4096); got != "bytes */4096" {
		t.Fatalf("UnsatisfiableRange = %q", got)
	}
}
