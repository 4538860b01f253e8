package casing

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCamelize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"created_at", "createdAt"},
		{"user-id", "userId"},
		{"avatar_url", "avatarUrl"},
		{"CreatedAt", "createdAt"},
		{"createdAt", "createdAt"},
		{"_id", "id"},
		{"is__read", "isRead"},
		{"trailing_", "trailing"},
		{"first name", "firstName"},
		{"123", "123"},
		{"", ""},
		{"x", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Camelize(tt.in); got != tt.want {
				t.Errorf("Camelize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCamelize_Idempotent(t *testing.T) {
	keys := []string{
		"created_at", "User-ID", "__meta__", "_1", "1_e5", "a b c",
		"already", "MixedCase_key", "ǅemal", "-1", "",
	}

	for _, k := range keys {
		once := Camelize(k)
		if twice := Camelize(once); twice != once {
			t.Errorf("Camelize not idempotent for %q: once=%q twice=%q", k, once, twice)
		}
	}
}

func TestKeys_Nested(t *testing.T) {
	in := map[string]any{
		"total": json.Number("2"),
		"items": []any{
			map[string]any{
				"message_id": "m1",
				"author": map[string]any{
					"display_name": "Ann",
					"avatar_url":   nil,
				},
				"tags": []any{"a_b", "c"},
			},
			map[string]any{"message_id": "m2"},
		},
	}

	want := map[string]any{
		"total": json.Number("2"),
		"items": []any{
			map[string]any{
				"messageId": "m1",
				"author": map[string]any{
					"displayName": "Ann",
					"avatarUrl":   nil,
				},
				// values are never rewritten
				"tags": []any{"a_b", "c"},
			},
			map[string]any{"messageId": "m2"},
		},
	}

	if diff := cmp.Diff(want, Keys(in)); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestKeys_Idempotent(t *testing.T) {
	in := map[string]any{
		"chat_id": json.Number("7"),
		"items": []any{
			map[string]any{"is_read": true, "sent-by": map[string]any{"user_name": "x"}},
			[]any{map[string]any{"deep_key": []any{}}},
		},
	}

	once := Keys(in)
	twice := Keys(once)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("Keys not idempotent (-once +twice):\n%s", diff)
	}
}

func TestKeys_CollisionPrefersNormalizedKey(t *testing.T) {
	in := map[string]any{
		"user_id": "converted",
		"userId":  "original",
	}

	got := Keys(in).(map[string]any)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got["userId"] != "original" {
		t.Errorf("userId = %v, want original", got["userId"])
	}
}

func TestJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "object",
			in:   `{"items":[{"created_at":"2024-01-01","is_read":false}],"offset":20,"total":50}`,
			want: `{"items":[{"createdAt":"2024-01-01","isRead":false}],"offset":20,"total":50}`,
		},
		{
			name: "large integers keep precision",
			in:   `{"message_id":9007199254740993}`,
			want: `{"messageId":9007199254740993}`,
		},
		{
			name: "empty body is null",
			in:   "  ",
			want: "null",
		},
		{
			name: "null",
			in:   "null",
			want: "null",
		},
		{
			name:    "invalid",
			in:      `{"a":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSON([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("JSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if string(got) != tt.want {
				t.Errorf("JSON() = %s, want %s", got, tt.want)
			}
		})
	}
}
