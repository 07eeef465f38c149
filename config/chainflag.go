package config

import (
	"fmt"

	"github.com/zalando/respipe/filters"
)

// chainFlag holds the response filter chain. As a flag, it is set in the
// form of:
//
//	status(201) -> setResponseHeader("X-Foo", "bar")
//
// In the config file, it accepts the same string, or a list of filters:
//
//	filters:
//	- name: status
//	  args: [201]
//	- name: setResponseHeader
//	  args: [X-Foo, bar]
type chainFlag struct {
	value   string
	filters []*filters.Config
}

func (cf *chainFlag) String() string {
	if cf == nil {
		return ""
	}

	return cf.value
}

func (cf *chainFlag) Set(value string) error {
	fs, err := filters.ParseChain(value)
	if err != nil {
		return fmt.Errorf("failed to parse filter chain: %w", err)
	}

	cf.value = value
	cf.filters = fs
	return nil
}

func (cf *chainFlag) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value string
	if err := unmarshal(&value); err == nil {
		return cf.Set(value)
	}

	var fs []*filters.Config
	if err := unmarshal(&fs); err != nil {
		return err
	}

	for i, f := range fs {
		if f == nil || f.Name == "" {
			return fmt.Errorf("missing filter name at position %d", i)
		}
	}

	cf.value = ""
	cf.filters = fs
	return nil
}
