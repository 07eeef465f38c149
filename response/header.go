package response

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Header is an ordered, multi-valued and case-insensitive header map. The
// values are kept in their original type and only rendered to strings on
// demand. Keys are ordered by their first appearance.
//
// No validation of the values is done, callers are responsible for setting
// RFC conform content.
type Header struct {
	keys   []string
	values map[string][]interface{}
}

// NewHeader creates an empty header map.
func NewHeader() *Header {
	return &Header{values: make(map[string][]interface{})}
}

// HeaderFrom creates a header map from an http.Header. Since http.Header is
// not ordered, the keys are added in sorted order.
func HeaderFrom(h http.Header) *Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	hh := NewHeader()
	for _, k := range keys {
		for _, v := range h[k] {
			hh.Add(k, v)
		}
	}

	return hh
}

func canonicalKey(key string) string {
	return http.CanonicalHeaderKey(key)
}

func (h *Header) init() {
	if h.values == nil {
		h.values = make(map[string][]interface{})
	}
}

// Add appends a value to the values stored with the key.
func (h *Header) Add(key string, value interface{}) {
	h.init()
	key = canonicalKey(key)
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}

	h.values[key] = append(h.values[key], value)
}

// Set replaces all the values stored with the key with the single value.
func (h *Header) Set(key string, value interface{}) {
	h.init()
	key = canonicalKey(key)
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}

	h.values[key] = []interface{}{value}
}

// Get returns the first value stored with the key, or nil.
func (h *Header) Get(key string) interface{} {
	vs := h.Values(key)
	if len(vs) == 0 {
		return nil
	}

	return vs[0]
}

// Values returns all the values stored with the key.
func (h *Header) Values(key string) []interface{} {
	if h == nil || h.values == nil {
		return nil
	}

	return h.values[canonicalKey(key)]
}

func (h *Header) Has(key string) bool {
	return len(h.Values(key)) > 0
}

// Del removes the key and all its values.
func (h *Header) Del(key string) {
	if h == nil || h.values == nil {
		return
	}

	key = canonicalKey(key)
	if _, ok := h.values[key]; !ok {
		return
	}

	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the canonical keys in the order of their first appearance.
func (h *Header) Keys() []string {
	if h == nil {
		return nil
	}

	k := make([]string, len(h.keys))
	copy(k, h.keys)
	return k
}

func (h *Header) Len() int {
	if h == nil {
		return 0
	}

	return len(h.keys)
}

// Clone returns a copy of the header map. The values themselves are not
// copied.
func (h *Header) Clone() *Header {
	c := NewHeader()
	if h == nil {
		return c
	}

	for _, k := range h.keys {
		vs := h.values[k]
		c.keys = append(c.keys, k)
		c.values[k] = append([]interface{}(nil), vs...)
	}

	return c
}

// String returns the rendered values of the key joined with a comma. It
// returns an empty string when the key is not set.
func (h *Header) String(key string) string {
	vs := h.Values(key)
	if len(vs) == 0 {
		return ""
	}

	s := make([]string, len(vs))
	for i, v := range vs {
		s[i] = RenderValue(v)
	}

	return strings.Join(s, ",")
}

// StringHeader renders the header map into an http.Header.
func (h *Header) StringHeader() http.Header {
	sh := make(http.Header, h.Len())
	if h == nil {
		return sh
	}

	for _, k := range h.keys {
		for _, v := range h.values[k] {
			sh[k] = append(sh[k], RenderValue(v))
		}
	}

	return sh
}

// RenderValue renders a typed header value as a string.
func RenderValue(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case []byte:
		return string(vv)
	case time.Time:
		return vv.UTC().Format(http.TimeFormat)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case uint64:
		return strconv.FormatUint(vv, 10)
	case fmt.Stringer:
		return vv.String()
	default:
		return fmt.Sprint(v)
	}
}
