package cache

import (
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "path only",
			key:  Key{Path: "/messages/sample/"},
			want: "feed:messages/sample",
		},
		{
			name: "query params sorted",
			key: Key{
				Path: "/messages/sample",
				Query: url.Values{
					"offset": []string{"40"},
					"limit":  []string{"20"},
				},
			},
			want: "feed:messages/sample:limit=20:offset=40",
		},
		{
			name: "repeated values keep order",
			key: Key{
				Path:  "/messages",
				Query: url.Values{"chat": []string{"b", "a"}},
			},
			want: "feed:messages:chat=b,a",
		},
		{
			name: "empty path",
			key:  Key{},
			want: "feed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_String_Deterministic(t *testing.T) {
	key := Key{
		Path: "/messages/sample",
		Query: url.Values{
			"offset": []string{"0"},
			"limit":  []string{"20"},
			"chat":   []string{"7"},
		},
	}

	first := key.String()
	for i := 0; i < 50; i++ {
		if got := key.String(); got != first {
			t.Fatalf("String() not deterministic: %q vs %q", got, first)
		}
	}
}
