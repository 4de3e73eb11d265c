package diskutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"howett.net/plist"

	"github.com/sealpatch/sealpatch/internal/executil"
)

var (
	// ErrVolumeNotFound is returned when no volume matches a hint.
	ErrVolumeNotFound = errors.New("no matching volume found")
	// ErrVolumeAmbiguous is returned when a hint matches more than one volume.
	ErrVolumeAmbiguous = errors.New("hint matches more than one volume")
	// ErrVolumeNotMounted is returned when a matched volume has no usable mount point.
	ErrVolumeNotMounted = errors.New("volume is not mounted")
)

// VolumeRef identifies one resolved volume.
type VolumeRef struct {
	Device     string // e.g. /dev/disk3s1
	Name       string // e.g. "Macintosh HD - Data"
	MountPoint string // e.g. "/Volumes/Macintosh HD - Data"
}

// Hints are the substrings selecting the system and data volumes among the
// discovered APFS volumes.
type Hints struct {
	System string
	Data   string
}

// Client queries diskutil for structured volume metadata.
type Client struct {
	runner executil.Runner
	logger *slog.Logger

	// statFn is swapped in tests so mount points need not exist.
	statFn func(string) (os.FileInfo, error)
}

// NewClient creates a diskutil Client.
func NewClient(runner executil.Runner, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		runner: runner,
		logger: logger,
		statFn: os.Stat,
	}
}

// ListPartitions runs "diskutil list -plist" and decodes the result.
func (c *Client) ListPartitions(ctx context.Context) (*SystemPartitions, error) {
	out, err := c.runner.Run(ctx, "diskutil", "list", "-plist")
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	parts := &SystemPartitions{}
	if err := plist.NewDecoder(bytes.NewReader(out)).Decode(parts); err != nil {
		return nil, fmt.Errorf("decoding partition list: %w", err)
	}
	return parts, nil
}

// Info runs "diskutil info -plist <device>" and decodes the result.
func (c *Client) Info(ctx context.Context, device string) (*VolumeInfo, error) {
	out, err := c.runner.Run(ctx, "diskutil", "info", "-plist", device)
	if err != nil {
		return nil, fmt.Errorf("querying volume %s: %w", device, err)
	}

	info := &VolumeInfo{}
	if err := plist.NewDecoder(bytes.NewReader(out)).Decode(info); err != nil {
		return nil, fmt.Errorf("decoding volume info for %s: %w", device, err)
	}
	return info, nil
}

// Locate finds the sealed system volume and its paired data volume. The
// system volume's name must contain the system hint but not the data hint;
// the data volume's name must contain both. Exactly one volume may match
// each hint, and each must resolve to an existing mount point.
func (c *Client) Locate(ctx context.Context, hints Hints) (system, data *VolumeRef, err error) {
	parts, err := c.ListPartitions(ctx)
	if err != nil {
		return nil, nil, err
	}

	var systemMatches, dataMatches []APFSVolume
	for _, disk := range parts.AllDisksAndPartitions {
		for _, vol := range disk.APFSVolumes {
			if !strings.Contains(vol.VolumeName, hints.System) {
				continue
			}
			if strings.Contains(vol.VolumeName, hints.Data) {
				dataMatches = append(dataMatches, vol)
			} else {
				systemMatches = append(systemMatches, vol)
			}
		}
	}

	sysVol, err := pickOne(systemMatches, hints.System)
	if err != nil {
		return nil, nil, fmt.Errorf("system volume: %w", err)
	}
	dataVol, err := pickOne(dataMatches, hints.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("data volume: %w", err)
	}

	system, err = c.resolve(ctx, sysVol)
	if err != nil {
		return nil, nil, fmt.Errorf("system volume: %w", err)
	}
	data, err = c.resolve(ctx, dataVol)
	if err != nil {
		return nil, nil, fmt.Errorf("data volume: %w", err)
	}

	c.logger.Info("volumes located",
		"system_device", system.Device, "system_mount", system.MountPoint,
		"data_device", data.Device, "data_mount", data.MountPoint)

	return system, data, nil
}

func pickOne(matches []APFSVolume, hint string) (APFSVolume, error) {
	switch len(matches) {
	case 0:
		return APFSVolume{}, fmt.Errorf("%w (hint %q)", ErrVolumeNotFound, hint)
	case 1:
		return matches[0], nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.VolumeName)
	}
	return APFSVolume{}, fmt.Errorf("%w (hint %q matched %v)", ErrVolumeAmbiguous, hint, names)
}

// resolve fetches authoritative metadata for the volume and checks its mount
// point actually exists on disk.
func (c *Client) resolve(ctx context.Context, vol APFSVolume) (*VolumeRef, error) {
	info, err := c.Info(ctx, vol.DeviceIdentifier)
	if err != nil {
		return nil, err
	}

	mountPoint := info.MountPoint
	if mountPoint == "" {
		// A sealed system volume may be mounted only via its snapshot.
		for _, snap := range vol.MountedSnapshots {
			if snap.SnapshotMountPoint != "" {
				mountPoint = snap.SnapshotMountPoint
				break
			}
		}
	}
	if mountPoint == "" {
		return nil, fmt.Errorf("%w: %s (%s)", ErrVolumeNotMounted, vol.VolumeName, vol.DeviceIdentifier)
	}

	fi, err := c.statFn(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("mount point %s: %w", mountPoint, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("mount point %s is not a directory", mountPoint)
	}

	device := info.DeviceNode
	if device == "" {
		device = "/dev/" + vol.DeviceIdentifier
	}

	return &VolumeRef{
		Device:     device,
		Name:       info.VolumeName,
		MountPoint: mountPoint,
	}, nil
}

// DisplayName strips the /Volumes/ mount prefix from a mount point.
func DisplayName(mountPoint string) string {
	return strings.TrimPrefix(mountPoint, "/Volumes/")
}

// EscapeSpaces backslash-escapes spaces for emitted shell command lines.
func EscapeSpaces(s string) string {
	return strings.ReplaceAll(s, " ", `\ `)
}
