package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher holds the current configuration and swaps it when the file changes.
// Readers take one snapshot per request with Current.
type Watcher struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
}

// NewWatcher loads the configuration like Load and keeps the viper instance
// around for Watch.
func NewWatcher(path string) (*Watcher, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	w := &Watcher{v: v}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// File returns the config file in use, or "" when running on defaults.
func (w *Watcher) File() string {
	return w.v.ConfigFileUsed()
}

// Reload re-decodes the file. On error the previous configuration stays current.
func (w *Watcher) Reload() (*Config, error) {
	if w.v.ConfigFileUsed() != "" {
		if err := w.v.ReadInConfig(); err != nil {
			return w.Current(), err
		}
	}
	cfg, err := decode(w.v)
	if err != nil {
		return w.Current(), err
	}
	w.current.Store(cfg)
	return cfg, nil
}

// Watch reloads on every write to the config file and reports the outcome.
// It is a no-op when no file is in use.
func (w *Watcher) Watch(onChange func(cfg *Config, err error)) {
	if w.v.ConfigFileUsed() == "" {
		return
	}
	w.v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		cfg, err := w.Reload()
		if onChange != nil {
			onChange(cfg, err)
		}
	})
	w.v.WatchConfig()
}
