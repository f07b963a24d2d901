package config

import (
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-decodes the configuration whenever the backing file changes and hands the
// new value to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log *slog.Logger, onChange func(*Config)) {
	if v == nil || onChange == nil || v.ConfigFileUsed() == "" {
		return
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			log.Warn("config reload rejected", slog.String("file", event.Name), slog.Any("error", err))
			return
		}

		log.Info("config reloaded", slog.String("file", event.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}
