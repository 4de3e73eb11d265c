package diskutil

// SystemPartitions mirrors the output of "diskutil list -plist", trimmed to
// the fields volume discovery consumes.
type SystemPartitions struct {
	AllDisksAndPartitions []DiskPart `plist:"AllDisksAndPartitions"`
}

// DiskPart is one whole-disk entry, physical or synthesized.
type DiskPart struct {
	APFSVolumes      []APFSVolume `plist:"APFSVolumes"`
	Content          string       `plist:"Content"`
	DeviceIdentifier string       `plist:"DeviceIdentifier"`
	Partitions       []Partition  `plist:"Partitions"`
}

// Partition is a partition on a physical disk.
type Partition struct {
	Content          string `plist:"Content"`
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	VolumeName       string `plist:"VolumeName"`
}

// APFSVolume is a volume inside a synthesized APFS container.
type APFSVolume struct {
	DeviceIdentifier string     `plist:"DeviceIdentifier"`
	MountPoint       string     `plist:"MountPoint"`
	MountedSnapshots []Snapshot `plist:"MountedSnapshots"`
	VolumeName       string     `plist:"VolumeName"`
	VolumeUUID       string     `plist:"VolumeUUID"`
}

// Snapshot is a mounted APFS snapshot of a volume.
type Snapshot struct {
	Sealed             string `plist:"Sealed"`
	SnapshotBSD        string `plist:"SnapshotBSD"`
	SnapshotMountPoint string `plist:"SnapshotMountPoint"`
	SnapshotName       string `plist:"SnapshotName"`
}

// VolumeInfo mirrors the output of "diskutil info -plist <device>".
type VolumeInfo struct {
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	DeviceNode       string `plist:"DeviceNode"`
	MountPoint       string `plist:"MountPoint"`
	VolumeName       string `plist:"VolumeName"`
	WritableVolume   bool   `plist:"WritableVolume"`
}
