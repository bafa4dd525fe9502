package feed

import "testing"

func TestStripHTML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"<p>hello <b>world</b></p>", "hello world"},
		{"a &amp; b &lt;c&gt;", "a & b <c>"},
		{"no markup", "no markup"},
		{"  spaced\t\tout  ", "spaced out"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := StripHTML(tc.in); got != tc.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	if got := Truncate("abcdefgh", 5); got != "abcde..." {
		t.Errorf("Truncate = %q", got)
	}
	// rune boundaries, not bytes
	if got := Truncate("日本語テスト", 3); got != "日本語..." {
		t.Errorf("Truncate multibyte = %q", got)
	}
}

func TestInlineImageURLs(t *testing.T) {
	t.Parallel()
	markup := `<p><img src="https://a/1.png"> text <img src='https://a/2.jpg'></p>`
	got := inlineImageURLs(markup)
	if len(got) != 2 || got[0] != "https://a/1.png" || got[1] != "https://a/2.jpg" {
		t.Fatalf("inlineImageURLs = %v", got)
	}
}
