package core

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"2006-05-01", "2006-05-01", false},
		{"2005-01-01", "2005-01-01", false},
		{"2006-5-1", "2006-05-01", false},
		{"2006-12-3", "2006-12-03", false},
		{"invalid", "", true},
		{"2006-13-01", "", true},
		{"05/01/2006", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Format(DateFmt) != tt.want {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got.Format(DateFmt), tt.want)
			}
		})
	}
}

func TestParseDateSpecAt(t *testing.T) {
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"exact date", "2005-01-01", "2005-01-01", false},
		{"exact date unpadded", "2005-1-9", "2005-01-09", false},
		{"relative d-1", "d-1", "2024-07-14", false},
		{"relative w-1", "w-1", "2024-07-08", false},
		{"relative m-1", "m-1", "2024-06-15", false},
		{"relative y-2", "Y-2", "2022-07-15", false},
		{"month/day in past", "7/1", "2024-07-01", false},
		{"month/day in future rolls back", "12/25", "2023-12-25", false},
		{"invalid", "invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDateSpecAt(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseDateSpecAt(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Format(DateFmt) != tt.want {
				t.Errorf("parseDateSpecAt(%q) = %v, want %v", tt.input, got.Format(DateFmt), tt.want)
			}
		})
	}
}

func TestDatePhrase(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2006-05-01", "2006-05-01"},
		{"2006-05-01T10:22:00-04:00", "2006-05-01"},
		{"2006-05", "2006-05"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DatePhrase(tt.input); got != tt.want {
			t.Errorf("DatePhrase(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDateOnly(t *testing.T) {
	in := time.Date(2006, 5, 1, 23, 59, 0, 0, time.FixedZone("X", 3600))
	got := DateOnly(in)
	if FormatDate(got) != "2006-05-01" || got.Hour() != 0 || got.Minute() != 0 || got.Location() != in.Location() {
		t.Errorf("DateOnly(%v) = %v", in, got)
	}
}
