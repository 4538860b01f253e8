// Package casing rewrites JSON object keys from the wire naming convention
// (snake_case, kebab-case) into the camelCase convention used by the
// decoded models.
//
// The rewrite is deep: nested objects and objects inside arrays are
// normalized too. Array order and nesting depth are preserved, and
// applying the rewrite twice yields the same result as applying it once.
package casing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Camelize converts a single key to camelCase.
//
// Runs of '_', '-' and whitespace are removed and the character following
// them is upper-cased; the first character is lower-cased. Numeric keys
// are returned unchanged.
//
//	created_at   -> createdAt
//	user-id      -> userId
//	CreatedAt    -> createdAt
//	_id          -> id
func Camelize(key string) string {
	if isNumeric(key) {
		return key
	}

	var b strings.Builder
	b.Grow(len(key))

	upperNext := false
	for _, r := range key {
		if isSeparator(r) {
			upperNext = true
			continue
		}
		if upperNext {
			r = unicode.ToUpper(r)
			upperNext = false
		}
		b.WriteRune(r)
	}

	out := b.String()
	first, size := utf8.DecodeRuneInString(out)
	if size == 0 || unicode.IsLower(first) {
		return out
	}
	return string(unicode.ToLower(first)) + out[size:]
}

// Keys returns v with every object key rewritten by Camelize.
// v is expected to be the result of decoding JSON into an interface value
// (map[string]any, []any and scalars); other values are returned as is.
//
// When two keys of one object normalize to the same name, a key that is
// already in normalized form wins; otherwise the lexically first key wins.
func Keys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeObject(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Keys(item)
		}
		return out
	default:
		return v
	}
}

// JSON normalizes the keys of a raw JSON document.
// An empty (or whitespace-only) document is treated as JSON null.
func JSON(data []byte) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("null"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	out, err := json.Marshal(Keys(doc))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

func normalizeObject(obj map[string]any) map[string]any {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(obj))

	// Keys already in normalized form take precedence over converted ones.
	for _, k := range keys {
		if Camelize(k) == k {
			out[k] = Keys(obj[k])
		}
	}
	for _, k := range keys {
		name := Camelize(k)
		if _, taken := out[name]; taken {
			continue
		}
		out[name] = Keys(obj[k])
	}

	return out
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-' || unicode.IsSpace(r)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
