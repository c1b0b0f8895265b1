package config

import (
	"strings"

	"github.com/samsaffron/llm-relay/internal/llm"
)

// env layers configured provider keys and base URLs over another Env, keyed
// by the variable names the registry reads.
type env struct {
	values map[string]string
	base   llm.Env
}

func (e *env) Lookup(key string) (string, bool) {
	if v, ok := e.values[key]; ok {
		return v, true
	}
	if e.base == nil {
		return "", false
	}
	return e.base.Lookup(key)
}

// Env returns an llm.Env where `providers.<name>` entries take precedence over base.
// Provider entries the registry does not know are ignored.
func (c *Config) Env(reg *llm.Registry, base llm.Env) llm.Env {
	values := make(map[string]string)
	for name, p := range c.Providers {
		b, ok := reg.Lookup(name)
		if !ok {
			continue
		}
		if key := strings.TrimSpace(p.APIKey); key != "" && b.APIKeyEnv != "" {
			values[b.APIKeyEnv] = key
		}
		if url := strings.TrimSpace(p.BaseURL); url != "" && b.BaseURLEnv != "" {
			values[b.BaseURLEnv] = url
		}
	}
	return &env{values: values, base: base}
}

// UnknownProviders lists `providers.<name>` entries the registry cannot serve.
func (c *Config) UnknownProviders(reg *llm.Registry) []string {
	var unknown []string
	for name := range c.Providers {
		if _, ok := reg.Lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
