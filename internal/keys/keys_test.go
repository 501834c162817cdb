package keys

import (
	"reflect"
	"testing"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		key       string
		want      string
	}{
		{"with namespace", "board", "board-1", "board:board-1"},
		{"empty namespace yields bare key", "", "board-1", "board-1"},
		{"namespace with colon-bearing key", "item", "a:b", "item:a:b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compose(tt.namespace, tt.key); got != tt.want {
				t.Errorf("Compose(%q, %q) = %q, want %q", tt.namespace, tt.key, got, tt.want)
			}
		})
	}
}

func TestPersisted(t *testing.T) {
	if got := Persisted("board", "board-1"); got != "persist:board:board-1" {
		t.Errorf("Persisted = %q, want persist:board:board-1", got)
	}
	if got := Persisted("", "k"); got != "persist:k" {
		t.Errorf("Persisted without namespace = %q, want persist:k", got)
	}

	// A persisted entry and a TTL'd entry for the same logical key must
	// never collide.
	if Persisted("board", "board-1") == Compose("board", "board-1") {
		t.Error("persisted key collides with composite key")
	}
}

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		match   []string
		noMatch []string
	}{
		{
			name:    "star matches any run",
			pattern: "item-board-1*",
			match:   []string{"item-board-1", "item-board-1-x", "item-board-12"},
			noMatch: []string{"item-board-2-x", "xitem-board-1"},
		},
		{
			name:    "match is anchored",
			pattern: "board-1",
			match:   []string{"board-1"},
			noMatch: []string{"board-12", "a-board-1"},
		},
		{
			name:    "regex metacharacters are literal",
			pattern: "a.b*",
			match:   []string{"a.b", "a.bc"},
			noMatch: []string{"aXb", "aXbc"},
		},
		{
			name:    "multiple stars",
			pattern: "*board*",
			match:   []string{"board", "my-board-1", "boards"},
			noMatch: []string{"item-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := CompileGlob(tt.pattern)
			if err != nil {
				t.Fatalf("CompileGlob(%q) error: %v", tt.pattern, err)
			}
			for _, key := range tt.match {
				if !re.MatchString(key) {
					t.Errorf("pattern %q should match %q", tt.pattern, key)
				}
			}
			for _, key := range tt.noMatch {
				if re.MatchString(key) {
					t.Errorf("pattern %q should not match %q", tt.pattern, key)
				}
			}
		})
	}
}

func TestFilter(t *testing.T) {
	keys := []string{"board:1", "board:2", "item:board-1-a", "item:board-2-a"}

	got, err := Filter("item:board-1*", keys)
	if err != nil {
		t.Fatalf("Filter error: %v", err)
	}
	want := []string{"item:board-1-a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter = %v, want %v", got, want)
	}

	// Empty pattern returns every key.
	all, err := Filter("", keys)
	if err != nil {
		t.Fatalf("Filter error: %v", err)
	}
	if len(all) != len(keys) {
		t.Errorf("empty pattern returned %d keys, want %d", len(all), len(keys))
	}
}
