package library

import "testing"

func TestSafeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Pride and Prejudice", want: "pride-and-prejudice"},
		{in: "Les Misérables", want: "les-miserables"},
		{in: "", want: "book"},
		{in: "???", want: "book"},
	}
	for _, tt := range tests {
		if got := SafeTitle(tt.in); got != tt.want {
			t.Errorf("SafeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthorDisplay(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{in: nil, want: ""},
		{in: []string{}, want: ""},
		{in: []string{"Jane Austen"}, want: "Jane Austen"},
		{in: []string{"Jane Austen", "Someone Else"}, want: "Jane Austen..."},
	}
	for _, tt := range tests {
		if got := AuthorDisplay(tt.in); got != tt.want {
			t.Errorf("AuthorDisplay(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
