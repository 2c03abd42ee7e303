// Package config reproduces the teacher's tagged-struct configuration style
// (fs/config/configstruct.Set(cmap, opt), used throughout backend/local and
// backend/hasher) for the handful of tunables trackdev needs: cache sizing
// and the companion CLI's flag surface, built on spf13/pflag.
package config

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/spf13/pflag"
)

// CacheOptions are the tunables for the shared track cache (spec.md §4.1).
type CacheOptions struct {
	MaxBytes int64 `config:"max_bytes"` // 0 disables the cache
}

// DriveOptions are the tunables for a single unit at insert time.
type DriveOptions struct {
	WriteProtect bool `config:"write_protect"`
	CacheEnabled bool `config:"cache_enabled"`
}

// DefaultCacheOptions mirrors the teacher's convention of a package-level
// zero-value-safe default (cf. backend/cache Options defaults).
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{MaxBytes: 2 << 20} // 2 MiB: 186 entries at the supervisor's HD-track entry size
}

// Set populates a tagged struct pointer from a string map, the same shape
// configstruct.Set takes (map[string]string -> struct with `config:"..."`
// tags). Only string, bool, int64 and int fields are supported, which is all
// trackdev's option structs use.
func Set(values map[string]string, out any) error {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: Set requires a pointer to struct, got %T", out)
	}
	v = v.Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("config")
		if tag == "" {
			continue
		}
		raw, ok := values[tag]
		if !ok {
			continue
		}
		field := v.Field(i)
		switch field.Kind() {
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("config: field %q: %w", tag, err)
			}
			field.SetBool(b)
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("config: field %q: %w", tag, err)
			}
			field.SetInt(n)
		case reflect.String:
			field.SetString(raw)
		default:
			return fmt.Errorf("config: field %q: unsupported kind %s", tag, field.Kind())
		}
	}
	return nil
}

// RegisterCacheFlags wires CacheOptions onto a pflag.FlagSet for cmd/trackdevd,
// grounded in the teacher's direct use of spf13/pflag for every CLI flag.
func RegisterCacheFlags(fs *pflag.FlagSet, opt *CacheOptions) {
	fs.Int64Var(&opt.MaxBytes, "cache-max-bytes", opt.MaxBytes, "maximum bytes the shared track cache may hold (0 disables it)")
}
