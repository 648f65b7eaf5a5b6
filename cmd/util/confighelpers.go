// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

// BeginCommonParse layers configuration sources in increasing precedence:
// flag defaults, configuration files, a JSON string, environment variables
// and finally explicitly set flags.
func BeginCommonParse(f *flag.FlagSet, args []string) (*koanf.Koanf, error) {
	if err := f.Parse(args); err != nil {
		return nil, err
	}
	if f.NArg() != 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", f.Args())
	}

	k := koanf.New(".")
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, errors.Wrap(err, "error loading flag defaults")
	}

	for _, path := range k.Strings("conf.file") {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, errors.Wrapf(err, "error loading local config file %v", path)
		}
	}

	if confString := k.String("conf.string"); confString != "" {
		if err := k.Load(rawbytes.Provider([]byte(confString)), json.Parser()); err != nil {
			return nil, errors.Wrap(err, "error loading config string")
		}
	}

	if prefix := k.String("conf.env-prefix"); prefix != "" {
		if err := loadEnvironmentVariables(k, prefix); err != nil {
			return nil, errors.Wrap(err, "error loading environment variables")
		}
	}

	// Flags given on the command line win over every other source.
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, errors.Wrap(err, "error reloading flags")
	}
	return k, nil
}

// loadEnvironmentVariables maps PREFIX_FOO_BAR__BAZ to foo-bar.baz.
func loadEnvironmentVariables(k *koanf.Koanf, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "_") + "_"
	return k.Load(env.Provider(prefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, prefix))
		key = strings.ReplaceAll(key, "__", ".")
		return strings.ReplaceAll(key, "_", "-")
	}), nil)
}

func EndCommonParse(k *koanf.Koanf, config interface{}) error {
	decoderConfig := mapstructure.DecoderConfig{
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Metadata:         nil,
		Result:           config,
		WeaklyTypedInput: true,
	}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{DecoderConfig: &decoderConfig}); err != nil {
		return errors.Wrap(err, "error unmarshalling configuration")
	}
	return nil
}

// DumpConfig renders the active configuration as JSON with the given keys
// overridden.
func DumpConfig(k *koanf.Koanf, overrides map[string]interface{}) ([]byte, error) {
	dump := k.Copy()
	if err := dump.Load(confmap.Provider(overrides, "."), nil); err != nil {
		return nil, errors.Wrap(err, "error removing extra parameters before dump")
	}
	c, err := dump.Marshal(json.Parser())
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal config file to JSON")
	}
	return c, nil
}

func PrintErrorAndExit(err error, usage func(string)) {
	fmt.Fprintf(os.Stderr, "%s\n", err.Error())
	if usage != nil {
		usage(os.Args[0])
	}
	os.Exit(1)
}
