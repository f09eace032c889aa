// SPDX-License-Identifier: ice License 1.0

package cfg

import (
	"log"
	"reflect"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultYAMLConfigurationFilePath = "/etc/icicle/application.yaml"
	modulePathPrefix                 = "github.com/ice-blockchain/icicle/"
)

var (
	yamlConfigurationFilePathInitializer = new(sync.Once)
	yamlConfigurationFilePath            string
)

func MustInit(absoluteCfgPaths ...string) {
	yamlConfigurationFilePathInitializer.Do(func() { mustInit(absoluteCfgPaths...) })
}

func mustInit(absoluteCfgPaths ...string) {
	yamlConfigurationFilePath = ""
	for _, path := range absoluteCfgPaths {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err == nil {
			yamlConfigurationFilePath = path

			break
		}
	}
	if yamlConfigurationFilePath == "" {
		if len(absoluteCfgPaths) > 0 {
			log.Printf("warn: could not find any of the provided file paths %+v, defaulting to `%v`", absoluteCfgPaths, defaultYAMLConfigurationFilePath)
		}
		yamlConfigurationFilePath = defaultYAMLConfigurationFilePath
	}
}

// Key returns the yaml key a config struct of type T is read from: its package path without the module prefix.
func Key[T any]() string {
	var t T

	return strings.Replace(reflect.TypeOf(t).PkgPath(), modulePathPrefix, "", 1)
}

func MustGet[T any]() *T {
	var t T
	key := Key[T]()
	if err := viper.UnmarshalKey(key, &t, viper.DecodeHook(decodeHook())); err != nil {
		log.Panic(errors.Wrapf(err, "could not deserialised `%v` yaml key `%v` into %+v", yamlConfigurationFilePath, key, t))
	}

	return &t
}

// GetOrDefault returns the configured T, falling back to def when the key is absent.
func GetOrDefault[T any](def T) *T {
	if !viper.IsSet(Key[T]()) {
		return &def
	}
	t := def
	if err := viper.UnmarshalKey(Key[T](), &t, viper.DecodeHook(decodeHook())); err != nil {
		log.Panic(errors.Wrapf(err, "could not deserialised `%v` yaml key `%v` into %+v", yamlConfigurationFilePath, Key[T](), t))
	}

	return &t
}

// OnChange watches the loaded file and calls fn after every write.
func OnChange(fn func(path string)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
			fn(e.Name)
		}
	})
	viper.WatchConfig()
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
