package adapter

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var errCoverTooLarge = fmt.Errorf("cover larger than %d bytes", maxCoverSize)

// readCover reads at most limit bytes of a cover image. A body that is
// larger is rejected rather than cut, since a cut image is corrupt.
func readCover(r io.Reader, contentLength, limit int64) ([]byte, error) {
	if contentLength > limit {
		return nil, fmt.Errorf("cover download: %d bytes: %w", contentLength, errCoverTooLarge)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("cover download: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("cover download: %w", errCoverTooLarge)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("cover download: empty body")
	}
	return b, nil
}

// truncateCaption limits a caption to n characters as Telegram counts them.
// In HTML mode only visible text counts; tags are never split and tags left
// open by the cut are closed.
func truncateCaption(s, parseMode string, n int) string {
	if !strings.EqualFold(parseMode, "HTML") {
		return truncateRunes(s, n)
	}
	return truncateHTML(s, n)
}

func truncateHTML(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	visible := 0
	scanHTML(s, func(tok string, tag bool) bool {
		if !tag {
			visible++
		}
		return true
	})
	if visible <= n {
		return s
	}

	var b strings.Builder
	var open []string
	used := 0
	scanHTML(s, func(tok string, tag bool) bool {
		if tag {
			name, closing := tagName(tok)
			switch {
			case closing:
				if k := len(open) - 1; k >= 0 && open[k] == name {
					open = open[:k]
				}
			case !strings.HasSuffix(tok, "/>"):
				open = append(open, name)
			}
			b.WriteString(tok)
			return true
		}
		if used == n-1 {
			return false
		}
		b.WriteString(tok)
		used++
		return true
	})
	b.WriteString("…")
	for k := len(open) - 1; k >= 0; k-- {
		b.WriteString("</" + open[k] + ">")
	}
	return b.String()
}

// scanHTML feeds fn whole tags and single visible characters, counting an
// entity such as &amp; as one character. It stops when fn returns false.
func scanHTML(s string, fn func(tok string, tag bool) bool) {
	for i := 0; i < len(s); {
		switch s[i] {
		case '<':
			if end := strings.IndexByte(s[i:], '>'); end > 0 {
				if !fn(s[i:i+end+1], true) {
					return
				}
				i += end + 1
				continue
			}
		case '&':
			if end := strings.IndexByte(s[i:], ';'); end > 1 && end <= 10 && !strings.ContainsAny(s[i:i+end], " <&\n") {
				if !fn(s[i:i+end+1], false) {
					return
				}
				i += end + 1
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		if !fn(s[i:i+size], false) {
			return
		}
		i += size
	}
}

func tagName(tag string) (name string, closing bool) {
	t := strings.TrimSuffix(strings.TrimPrefix(tag, "<"), ">")
	if strings.HasPrefix(t, "/") {
		closing = true
		t = t[1:]
	}
	if k := strings.IndexAny(t, " \t\n/"); k >= 0 {
		t = t[:k]
	}
	return strings.ToLower(t), closing
}
