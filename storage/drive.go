package storage

type driveType int

const (
	driveUnknown driveType = iota
	driveRotational
	driveSolidState
	// Byte-addressable persistent memory.
	driveDAX
	// Network filesystems. Preallocation is slow or unreliable on these.
	driveRemote
)

func (me driveType) String() string {
	switch me {
	case driveRotational:
		return "rotational"
	case driveSolidState:
		return "solid state"
	case driveDAX:
		return "dax"
	case driveRemote:
		return "remote"
	}
	return "unknown"
}

func (me driveType) prefersMmapWrites() bool {
	return me == driveSolidState || me == driveDAX
}
