package wsserver

import "testing"

func TestCanonicalizePath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/", "/", false},
		{"/chat", "/chat", false},
		{"/chat/", "/chat", false},
		{"/a/b/c/", "/a/b/c", false},
		{"/caf%C3%A9", "/café", false},
		{"chat", "", true},
		{"", "", true},
		{"/chat?x=1", "", true},
		{"/chat#frag", "", true},
		{"/%zz", "", true},
	}
	for _, c := range cases {
		got, err := canonicalizePath(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("canonicalizePath(%q) = %q, want error", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("canonicalizePath(%q) unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("canonicalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// TestCanonicalizePathIdempotent:
// canonicalize(canonicalize(p)) == canonicalize(p).
func TestCanonicalizePathIdempotent(t *testing.T) {
	inputs := []string{"/", "/chat", "/chat/", "/a/b/c/", "/caf%C3%A9"}
	for _, in := range inputs {
		once, err := canonicalizePath(in)
		if err != nil {
			t.Fatalf("canonicalizePath(%q): %v", in, err)
		}
		twice, err := canonicalizePath(once)
		if err != nil {
			t.Fatalf("canonicalizePath(%q) (second pass): %v", once, err)
		}
		if once != twice {
			t.Errorf("canonicalizePath not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}
