package filepool

import "os"

// Permissions for files and directories created under a save path.
const (
	FilePerm       os.FileMode = 0o644
	ExecutablePerm os.FileMode = 0o755
	DirPerm        os.FileMode = 0o755
)
