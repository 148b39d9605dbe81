package render

import "testing"

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "sanitized fragment",
			in:   `<div id="bw-book-content"><h1>Title</h1><p>First   line</p><p>Second<br/>line</p></div>`,
			want: "Title First line Second line",
		},
		{
			name: "full document drops head and scripts",
			in:   `<html><head><title>Ignored</title><style>p{}</style></head><body><p>Kept</p><script>x()</script></body></html>`,
			want: "Kept",
		},
		{
			name: "malformed markup",
			in:   `<p>unclosed <b>bold</p> tail`,
			want: "unclosed bold tail",
		},
		{
			name: "entities decoded",
			in:   `<p>caf&eacute; &amp; bar</p>`,
			want: "café & bar",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlainText([]byte(tt.in))
			if err != nil {
				t.Fatalf("PlainText() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PlainText() = %q, want %q", got, tt.want)
			}
		})
	}
}
