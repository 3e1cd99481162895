// Package mount discovers Btrfs filesystems: parsing the kernel mount
// table, resolving filesystem/device identity natively via ioctl, and
// invoking the external subvolume-listing tool for the narrow textual
// contract spec §6 names.
package mount

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
)

const btrfsIoctlMagic = 0x94

// btrfsIoctlFsInfoArgs mirrors struct btrfs_ioctl_fs_info_args from
// linux/btrfs.h (BTRFS_IOC_FS_INFO).
type btrfsIoctlFsInfoArgs struct {
	MaxID          uint64
	NumDevices     uint64
	FSID           [16]byte
	NodeSize       uint32
	SectorSize     uint32
	CloneAlignment uint32
	CsumType       uint16
	CsumSize       uint16
	Flags          uint64
	Generation     uint64
	MetadataUUID   [16]byte
	Reserved       [944]byte
}

var ioctlFsInfo = ioctl.IOR(btrfsIoctlMagic, 31, unsafe.Sizeof(btrfsIoctlFsInfoArgs{}))

const devicePathNameMax = 1024

// btrfsIoctlDevInfoArgs mirrors struct btrfs_ioctl_dev_info_args
// (BTRFS_IOC_DEV_INFO).
type btrfsIoctlDevInfoArgs struct {
	DevID      uint64
	UUID       [16]byte
	BytesUsed  uint64
	TotalBytes uint64
	FSID       [16]byte
	Unused     [377]uint64
	Path       [devicePathNameMax]byte
}

var ioctlDevInfo = ioctl.IOWR(btrfsIoctlMagic, 30, unsafe.Sizeof(btrfsIoctlDevInfoArgs{}))

// DeviceInfo is one device backing a Btrfs filesystem.
type DeviceInfo struct {
	DevID uint64
	UUID  string
	Path  string
}

// FilesystemIdentity is the native-ioctl identity of a mounted Btrfs
// filesystem: its UUID (used as the persistence key, spec §6's "Persistent
// state" — robust across remounts under a different path) and its member
// devices. The Supervisor uses only the UUID; it keeps no device-id →
// mountpoints map.
type FilesystemIdentity struct {
	UUID    string
	Devices []DeviceInfo
}

// GetFilesystemIdentity resolves path's filesystem UUID and device list via
// BTRFS_IOC_FS_INFO + BTRFS_IOC_DEV_INFO, without shelling out.
func GetFilesystemIdentity(path string) (*FilesystemIdentity, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mount: open %q: %w", path, err)
	}
	defer f.Close()

	var fsArgs btrfsIoctlFsInfoArgs
	if err := ioctl.Do(f, ioctlFsInfo, &fsArgs); err != nil {
		return nil, fmt.Errorf("mount: FS_INFO ioctl on %q: %w", path, err)
	}

	var devices []DeviceInfo
	for devID := uint64(1); devID <= fsArgs.MaxID && uint64(len(devices)) < fsArgs.NumDevices; devID++ {
		var devArgs btrfsIoctlDevInfoArgs
		devArgs.DevID = devID
		if err := ioctl.Do(f, ioctlDevInfo, &devArgs); err != nil {
			continue
		}
		devices = append(devices, DeviceInfo{
			DevID: devArgs.DevID,
			UUID:  formatUUID(devArgs.UUID),
			Path:  cStringFromBytes(devArgs.Path[:]),
		})
	}

	return &FilesystemIdentity{
		UUID:    formatUUID(fsArgs.FSID),
		Devices: devices,
	}, nil
}

func cStringFromBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func formatUUID(uuid [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.BigEndian.Uint32(uuid[0:4]),
		binary.BigEndian.Uint16(uuid[4:6]),
		binary.BigEndian.Uint16(uuid[6:8]),
		binary.BigEndian.Uint16(uuid[8:10]),
		uuid[10:16])
}
