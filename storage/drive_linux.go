package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

var remoteFilesystems = map[uint32]bool{
	unix.NFS_SUPER_MAGIC:  true,
	unix.SMB_SUPER_MAGIC:  true,
	unix.SMB2_SUPER_MAGIC: true,
	unix.CIFS_SUPER_MAGIC: true,
	unix.AFS_SUPER_MAGIC:  true,
	unix.CODA_SUPER_MAGIC: true,
	unix.V9FS_MAGIC:       true,
	unix.CEPH_SUPER_MAGIC: true,
}

// Works out what kind of drive holds path, which may not exist yet.
func probeDrive(path string) driveType {
	dir := existingAncestor(path)
	var sfs unix.Statfs_t
	if unix.Statfs(dir, &sfs) != nil {
		return driveUnknown
	}
	if remoteFilesystems[uint32(sfs.Type)] {
		return driveRemote
	}
	var st unix.Stat_t
	if unix.Stat(dir, &st) != nil {
		return driveUnknown
	}
	return blockDeviceType(unix.Major(uint64(st.Dev)), unix.Minor(uint64(st.Dev)))
}

func existingAncestor(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

func blockDeviceType(major, minor uint32) driveType {
	base := fmt.Sprintf("/sys/dev/block/%d:%d", major, minor)
	if readSysfsFlag(filepath.Join(base, "dax")) || readSysfsFlag(filepath.Join(base, "queue", "dax")) {
		return driveDAX
	}
	queue := filepath.Join(base, "queue")
	if _, err := os.Stat(queue); err != nil {
		// Partitions keep the queue on the parent device.
		queue = filepath.Join(base, "..", "queue")
	}
	b, err := os.ReadFile(filepath.Join(queue, "rotational"))
	if err != nil {
		return driveUnknown
	}
	switch strings.TrimSpace(string(b)) {
	case "0":
		return driveSolidState
	case "1":
		return driveRotational
	}
	return driveUnknown
}

func readSysfsFlag(path string) bool {
	b, err := os.ReadFile(path)
	return err == nil && strings.TrimSpace(string(b)) == "1"
}
