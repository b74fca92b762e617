package address

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, addr string
		want          bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/*", "/a/b", true},
		{"/a/*", "/a/b/c", false},
		{"/a/**", "/a/b/c", true},
		{"/a/**", "/a", true},
		{"/**", "/anything/at/all", true},
		{"**", "/anything", true},
		{"/mixer/**", "/mixer/master/volume", true},
		{"/mixer/*/volume", "/mixer/master/volume", true},
		{"/mixer/*/volume", "/mixer/master/gain", false},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.addr); got != c.want {
			t.Errorf("Match(%q,%q) = %v, want %v", c.pattern, c.addr, got, c.want)
		}
	}
}

func TestIsSubset(t *testing.T) {
	cases := []struct {
		child, parent string
		want          bool
	}{
		{"/lights/**", "/**", true},
		{"/audio/**", "/lights/**", false},
		{"/a/b", "/a/*", true},
		{"/a/b/c", "/a/*", false},
		{"/a/*", "/a/b", false},
		{"/shared/**", "/shared/**", true},
		{"/a/**/b/**", "/a/**", false}, // child has two ** -> conservative reject
		{"/a/**/z", "/a/**", true},     // single ** each side, z-suffix still covered
	}
	for _, c := range cases {
		if got := IsSubset(c.child, c.parent); got != c.want {
			t.Errorf("IsSubset(%q,%q) = %v, want %v", c.child, c.parent, got, c.want)
		}
	}
}
