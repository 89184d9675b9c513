package tgui

import "testing"

func TestBuilders(t *testing.T) {
	cases := []struct {
		name string
		got  H
		want string
	}{
		{"escape", Esc(`a<b>&"c"`), "a&lt;b&gt;&amp;&#34;c&#34;"},
		{"bold", B("x<y"), "<b>x&lt;y</b>"},
		{"code", Code("42"), "<code>42</code>"},
		{"link", Link("进入", "https://live.bilibili.com/1?a=1&b=2"), `<a href="https://live.bilibili.com/1?a=1&amp;b=2">进入</a>`},
		{"lines skip empty", Lines(B("a"), "", Esc("b")), "<b>a</b>\nb"},
		{"concat", Concat(B("n"), "", Esc("开播了")), "<b>n</b> 开播了"},
		{"escf", Escf("%d<%d", 1, 2), "1&lt;2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got.String() != tc.want {
				t.Fatalf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}
