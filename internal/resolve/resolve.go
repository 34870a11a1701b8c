// Package resolve turns a filesystem specifier into the member devices of a
// multi-device bcachefs filesystem.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sigreer/bcmount/internal/blockdev"
	"github.com/sigreer/bcmount/internal/superblock"
)

var (
	// ErrInvalidIdentity is returned for malformed UUID text and for device
	// lists whose members disagree on the filesystem UUID
	ErrInvalidIdentity = errors.New("invalid filesystem UUID")
	// ErrNotFound is returned when no device matches the specifier
	ErrNotFound = errors.New("no device found from specified parameters")
)

// Specifier prefixes selecting lookup by filesystem UUID
const (
	UUIDPrefix         = "UUID="
	OldBlkidUUIDPrefix = "OLD_BLKID_UUID="
)

// DeviceSeparator joins explicit member device paths
const DeviceSeparator = ":"

// Prober reads a device's superblock
type Prober interface {
	Probe(path string) (superblock.Handle, error)
}

// Kind is how a specifier names its filesystem
type Kind string

const (
	KindUUID       Kind = "uuid"
	KindDeviceList Kind = "device_list"
	KindDevice     Kind = "device"
)

// Specifier is a parsed filesystem specifier
type Specifier struct {
	Kind    Kind
	UUID    uuid.UUID
	Devices []string
}

// ParseSpecifier classifies spec without touching any device
func ParseSpecifier(spec string) (Specifier, error) {
	for _, prefix := range []string{UUIDPrefix, OldBlkidUUIDPrefix} {
		if !strings.HasPrefix(spec, prefix) {
			continue
		}
		id, err := uuid.Parse(strings.TrimPrefix(spec, prefix))
		if err != nil {
			return Specifier{}, fmt.Errorf("%w %q: %w", ErrInvalidIdentity, spec, err)
		}
		return Specifier{Kind: KindUUID, UUID: id}, nil
	}

	// A colon means the caller listed every member
	if strings.Contains(spec, DeviceSeparator) {
		return Specifier{Kind: KindDeviceList, Devices: strings.Split(spec, DeviceSeparator)}, nil
	}

	return Specifier{Kind: KindDevice, Devices: []string{spec}}, nil
}

// Device is one member device with its superblock
type Device struct {
	Path       string
	Superblock superblock.Handle
}

// Filesystem is the resolved membership of a filesystem
type Filesystem struct {
	Devices []Device
}

// Paths returns member device paths in resolution order
func (fs *Filesystem) Paths() []string {
	paths := make([]string, len(fs.Devices))
	for i, d := range fs.Devices {
		paths[i] = d.Path
	}
	return paths
}

// DeviceList returns the colon-joined device list passed to mount
func (fs *Filesystem) DeviceList() string {
	return strings.Join(fs.Paths(), DeviceSeparator)
}

// Representative returns the superblock that speaks for the filesystem
func (fs *Filesystem) Representative() superblock.Handle {
	if len(fs.Devices) == 0 {
		return nil
	}
	return fs.Devices[0].Superblock
}

// Resolver finds member devices for specifiers
type Resolver struct {
	Probe   Prober
	Devices blockdev.Enumerator
	Log     zerolog.Logger
}

// Resolve returns the members of the filesystem spec names
func (r *Resolver) Resolve(ctx context.Context, spec string) (*Filesystem, error) {
	s, err := ParseSpecifier(spec)
	if err != nil {
		return nil, err
	}

	switch s.Kind {
	case KindUUID:
		return r.byUUID(ctx, s.UUID)
	case KindDeviceList:
		return r.byDeviceList(s.Devices)
	case KindDevice:
		return r.byDevice(ctx, s.Devices[0])
	default:
		return nil, fmt.Errorf("unhandled specifier kind %q", s.Kind)
	}
}

// byUUID scans every block device for members of id, in enumeration order
func (r *Resolver) byUUID(ctx context.Context, id uuid.UUID) (*Filesystem, error) {
	r.Log.Debug().Str("uuid", id.String()).Msg("enumerating devices with UUID")

	paths, err := r.Devices.ListBlockDevices(ctx)
	if err != nil {
		if errors.Is(err, blockdev.ErrEnumerationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", blockdev.ErrEnumerationFailed, err)
	}

	fs := &Filesystem{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sb, err := r.Probe.Probe(path)
		if err != nil {
			// foreign or unreadable devices are expected during a scan
			r.Log.Trace().Str("device", path).Err(err).Msg("skipping device")
			continue
		}
		if sb.Identity() != id {
			continue
		}
		fs.Devices = append(fs.Devices, Device{Path: path, Superblock: sb})
	}

	if len(fs.Devices) == 0 {
		return nil, fmt.Errorf("%w: UUID %s", ErrNotFound, id)
	}
	return fs, nil
}

// byDeviceList trusts the caller's membership but validates every device:
// each must carry a superblock and all must belong to one filesystem
func (r *Resolver) byDeviceList(paths []string) (*Filesystem, error) {
	fs := &Filesystem{Devices: make([]Device, 0, len(paths))}
	for _, path := range paths {
		sb, err := r.Probe.Probe(path)
		if err != nil {
			return nil, err
		}
		if len(fs.Devices) > 0 {
			if want := fs.Devices[0].Superblock.Identity(); sb.Identity() != want {
				return nil, fmt.Errorf("%w: %s belongs to filesystem %s, not %s (from %s)",
					ErrInvalidIdentity, path, sb.Identity(), want, fs.Devices[0].Path)
			}
		}
		fs.Devices = append(fs.Devices, Device{Path: path, Superblock: sb})
	}
	return fs, nil
}

// byDevice recovers the full membership from one member
func (r *Resolver) byDevice(ctx context.Context, path string) (*Filesystem, error) {
	sb, err := r.Probe.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not find specified device %s: %w", ErrNotFound, path, err)
	}

	r.Log.Debug().Str("device", path).Str("uuid", sb.Identity().String()).Msg("found filesystem on device")
	return r.byUUID(ctx, sb.Identity())
}
