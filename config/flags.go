package config

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// listFlag is a separated list of values, optionally restricted to a set
// of allowed values.
type listFlag struct {
	sep     string
	allowed map[string]bool
	value   string
	values  []string
}

func newListFlag(sep string, allowed ...string) *listFlag {
	lf := &listFlag{
		sep:     sep,
		allowed: make(map[string]bool),
	}

	for _, a := range allowed {
		lf.allowed[a] = true
	}

	return lf
}

func commaListFlag(allowed ...string) *listFlag {
	return newListFlag(",", allowed...)
}

func (lf *listFlag) validate() error {
	if len(lf.allowed) == 0 {
		return nil
	}

	for _, v := range lf.values {
		if !lf.allowed[v] {
			return fmt.Errorf("value not allowed: %s", v)
		}
	}

	return nil
}

func (lf *listFlag) Set(value string) error {
	if lf == nil {
		return nil
	}

	if value == "" {
		lf.value = ""
		lf.values = nil
		return nil
	}

	lf.value = value
	lf.values = strings.Split(value, lf.sep)
	for i := range lf.values {
		lf.values[i] = strings.TrimSpace(lf.values[i])
	}

	return lf.validate()
}

func (lf *listFlag) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var values []string
	if err := unmarshal(&values); err != nil {
		return err
	}

	lf.values = values
	lf.value = strings.Join(values, lf.sep)
	return lf.validate()
}

func (lf *listFlag) String() string {
	if lf == nil {
		return ""
	}

	return lf.value
}

// headerFlag can be repeated, every occurrence adds a header in the form
// of Name: value.
type headerFlag struct {
	header http.Header
}

func (h *headerFlag) add(value string) error {
	name, v, ok := strings.Cut(value, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("invalid header, expected format Name: value, got: '%s'", value)
	}

	if h.header == nil {
		h.header = make(http.Header)
	}

	h.header.Add(name, strings.TrimSpace(v))
	return nil
}

func (h *headerFlag) Set(value string) error {
	return h.add(value)
}

func (h *headerFlag) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var values []string
	if err := unmarshal(&values); err != nil {
		return err
	}

	h.header = nil
	for _, v := range values {
		if err := h.add(v); err != nil {
			return err
		}
	}

	return nil
}

func (h *headerFlag) String() string {
	if h == nil {
		return ""
	}

	var lines []string
	for name, values := range h.header {
		for _, v := range values {
			lines = append(lines, name+": "+v)
		}
	}

	sort.Strings(lines)
	return strings.Join(lines, ", ")
}

// mapFlags are generic string key-value pair flags, in the form of
// key=value,key2=value2.
type mapFlags struct {
	values map[string]string
}

func (m *mapFlags) String() string {
	if m == nil {
		return ""
	}

	pairs := make([]string, 0, len(m.values))
	for k, v := range m.values {
		pairs = append(pairs, k+"="+v)
	}

	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (m *mapFlags) Set(value string) error {
	if m == nil {
		return nil
	}

	m.values = make(map[string]string)
	for _, vi := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(vi, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return errors.New("invalid map key-value pair, expected format key=value but got: '" + vi + "'")
		}

		m.values[k] = v
	}

	return nil
}

func (m *mapFlags) UnmarshalYAML(unmarshal func(interface{}) error) error {
	values := make(map[string]string)
	if err := unmarshal(&values); err != nil {
		return err
	}

	m.values = values
	return nil
}

// yamlFlag accepts a yaml document as the flag value, and the same
// structure in the config file.
type yamlFlag[T any] struct {
	Ptr   *T
	value string
}

func newYamlFlag[T any](ptr *T) *yamlFlag[T] {
	return &yamlFlag[T]{Ptr: ptr}
}

func (yf *yamlFlag[T]) Set(value string) error {
	var v T
	if err := yaml.UnmarshalStrict([]byte(value), &v); err != nil {
		return fmt.Errorf("failed to parse yaml: %w", err)
	}

	*yf.Ptr = v
	yf.value = value
	return nil
}

func (yf *yamlFlag[T]) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v T
	if err := unmarshal(&v); err != nil {
		return err
	}

	*yf.Ptr = v
	return nil
}

func (yf *yamlFlag[T]) String() string {
	if yf == nil {
		return ""
	}

	return yf.value
}
