package adapter

import (
	"errors"
	"strings"
	"testing"
)

func TestTruncateCaptionHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "markup does not count", in: "<b>直播标题</b>", n: 10, want: "<b>直播标题</b>"},
		{name: "closes open tag", in: "<b>abcdef</b>", n: 4, want: "<b>abc…</b>"},
		{name: "tag with attributes kept whole", in: `<a href="https://x/?a=1&amp;b=2">link</a> tail`, n: 3, want: `<a href="https://x/?a=1&amp;b=2">li…</a>`},
		{name: "entity is one character", in: "&amp;&amp;&amp;&amp;", n: 3, want: "&amp;&amp;…"},
		{name: "nested tags", in: "<b>x<i>yz</i>w</b>", n: 3, want: "<b>x<i>y…</i></b>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateCaption(tt.in, "HTML", tt.n); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateCaptionPlain(t *testing.T) {
	if got := truncateCaption("abcdef", "", 4); got != "abc…" {
		t.Fatalf("got %q", got)
	}
}

func TestReadCover(t *testing.T) {
	b, err := readCover(strings.NewReader("1234"), -1, 4)
	if err != nil || string(b) != "1234" {
		t.Fatalf("exact size: %q, %v", b, err)
	}
	if _, err := readCover(strings.NewReader("12345"), -1, 4); !errors.Is(err, errCoverTooLarge) {
		t.Fatalf("oversized body err = %v", err)
	}
	if _, err := readCover(strings.NewReader("1"), 5, 4); !errors.Is(err, errCoverTooLarge) {
		t.Fatalf("oversized content length err = %v", err)
	}
	if _, err := readCover(strings.NewReader(""), 0, 4); err == nil {
		t.Fatalf("expected error for empty body")
	}
}
