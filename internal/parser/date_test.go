package parser

import (
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   time.Time
		offset int
	}{
		{"Mon, 09 Feb 2018 23:10:11 +0800", time.Date(2018, 2, 9, 15, 10, 11, 0, time.UTC), 8 * 3600},
		{"9 Feb 2018 23:10:11 +0800", time.Date(2018, 2, 9, 15, 10, 11, 0, time.UTC), 8 * 3600},
		{"Tue, 1 JAN 2019 00:00:00 -0530", time.Date(2019, 1, 1, 5, 30, 0, 0, time.UTC), -(5*3600 + 30*60)},
		{"Wed, 3 Jul 2019 10:00:00 +0000 (UTC)", time.Date(2019, 7, 3, 10, 0, 0, 0, time.UTC), 0},
		{"Thu, 4 Jul 2019 10:00:00 GMT", time.Date(2019, 7, 4, 10, 0, 0, 0, time.UTC), 0},
		{"Thu, 4 Jul 2019 10:00:00 pst", time.Date(2019, 7, 4, 18, 0, 0, 0, time.UTC), -8 * 3600},
		{"  4 Jul 19 10:00:00 +0100  ", time.Date(2019, 7, 4, 9, 0, 0, 0, time.UTC), 3600},
		{"4 Jul 99 10:00:00 +0000", time.Date(1999, 7, 4, 10, 0, 0, 0, time.UTC), 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDate(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got.UTC(), tt.want)
			}
			if _, off := got.Zone(); off != tt.offset {
				t.Errorf("offset: got %d, want %d", off, tt.offset)
			}
		})
	}
}

func TestParseDateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want error
	}{
		{"", ErrDateFormat},
		{"yesterday", ErrDateFormat},
		{"2018-02-09T23:10:11Z", ErrDateFormat},
		{"Mon, 09 Feb 2018 23:10:11", ErrDateFormat},
		{"Mon, 09 Feb 2018 23:10:11 +08", ErrDateFormat},
		{"Mon, 09 Feb 2018 23:10:11 +0875", ErrDateFormat},
		{"Mon, 09 Feb 2018 23:10:11 XYZ", ErrDateFormat},
		{"Mon, 30 Feb 2018 23:10:11 +0800", ErrDateFormat},
		{"Mon, 09 Feb 2018 24:10:11 +0800", ErrDateFormat},
		{"Mon, 09 Foo 2018 23:10:11 +0800", ErrMonth},
		{"Mon, 09 February 2018 23:10:11 +0800", ErrMonth},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseDate(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
