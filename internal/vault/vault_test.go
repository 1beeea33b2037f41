package vault

import "testing"

func TestParseRef(t *testing.T) {
	cases := []struct {
		in        string
		path, key string
		ok        bool
	}{
		{"vault:secret/blueolive/db#password", "secret/blueolive/db", "password", true},
		{"vault:kv/a#b#c", "kv/a#b", "c", true},
		{"vault:secret/db", "", "", false},
		{"vault:#key", "", "", false},
		{"vault:secret/db#", "", "", false},
		{"plain-password", "", "", false},
	}
	for _, tc := range cases {
		p, k, ok := ParseRef(tc.in)
		if p != tc.path || k != tc.key || ok != tc.ok {
			t.Errorf("ParseRef(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, p, k, ok, tc.path, tc.key, tc.ok)
		}
	}
}

func TestSplitMount(t *testing.T) {
	m, rel := splitMount("secret/blueolive/db")
	if m != "secret" || rel != "blueolive/db" {
		t.Fatalf("got (%q, %q)", m, rel)
	}
	m, rel = splitMount("secret")
	if m != "secret" || rel != "" {
		t.Fatalf("got (%q, %q)", m, rel)
	}
}
