package app

import "testing"

func TestSessionKeyKeepsPartsApart(t *testing.T) {
	pairs := [][2]string{
		{"a:b", "c"},
		{"a", "b:c"},
		{"a:", "b"},
		{"a", ":b"},
	}
	seen := map[string][2]string{}
	for _, p := range pairs {
		key := sessionKey(p[0], p[1])
		if prev, ok := seen[key]; ok {
			t.Fatalf("%q and %q share key %q", prev, p, key)
		}
		seen[key] = p
	}
	if sessionKey("u1", "n5") != sessionKey("u1", "n5") {
		t.Fatalf("key is not stable")
	}
}
