package models

import "testing"

func TestHasImageRef(t *testing.T) {
	cases := map[string]bool{
		"":                          false,
		"   ":                       false,
		Unspecified:                 false,
		"https://example.com/a.png": true,
	}
	for ref, want := range cases {
		if got := HasImageRef(ref); got != want {
			t.Errorf("HasImageRef(%q) = %v, want %v", ref, got, want)
		}
	}
}
