// Package blockdev lists the block device nodes visible on the system.
package blockdev

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/sigreer/bcmount/internal/cache"
)

// ErrEnumerationFailed is returned when no device listing source is usable
var ErrEnumerationFailed = errors.New("block device enumeration failed")

// Enumerator lists device node paths of all block devices
type Enumerator interface {
	ListBlockDevices(ctx context.Context) ([]string, error)
}

// Discovery modes
const (
	ModeAuto  = "auto"
	ModeSysfs = "sysfs"
	ModeLsblk = "lsblk"
)

// New returns the enumerator for a discovery mode
func New(mode string, fs afero.Fs) (Enumerator, error) {
	switch mode {
	case ModeSysfs:
		return NewSysfs(fs), nil
	case ModeLsblk:
		return NewLsblk(), nil
	case ModeAuto, "":
		// sysfs needs no external tools; lsblk covers systems without /sys/class/block
		return &Auto{Primary: NewSysfs(fs), Fallback: NewLsblk()}, nil
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", mode)
	}
}

// Auto tries Primary and falls back when it fails or finds nothing
type Auto struct {
	Primary  Enumerator
	Fallback Enumerator
}

func (a *Auto) ListBlockDevices(ctx context.Context) ([]string, error) {
	devs, err := a.Primary.ListBlockDevices(ctx)
	if err == nil && len(devs) > 0 {
		return devs, nil
	}

	fallback, ferr := a.Fallback.ListBlockDevices(ctx)
	if ferr != nil {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", err, ferr)
		}
		return nil, ferr
	}
	return fallback, nil
}

const cacheKey = "blockdev:devices"

// Cached shares one enumeration pass between resolutions in a process
type Cached struct {
	Enumerator Enumerator
	Cache      *cache.Cache
	TTL        time.Duration
	Log        zerolog.Logger
}

func (c *Cached) ListBlockDevices(ctx context.Context) ([]string, error) {
	if cached := c.Cache.Get(cacheKey); cached != nil {
		devs := cached.([]string)
		if age, ok := c.Cache.Age(cacheKey); ok {
			c.Log.Debug().Dur("age", age).Int("devices", len(devs)).Msg("reusing block device list")
		}
		return append([]string(nil), devs...), nil
	}

	devs, err := c.Enumerator.ListBlockDevices(ctx)
	if err != nil {
		return nil, err
	}

	ttl := c.TTL
	if ttl <= 0 {
		ttl = cache.TTLEnumeration
	}
	c.Cache.Set(cacheKey, append([]string(nil), devs...), ttl)
	return devs, nil
}
