//go:build !linux

package storage

func probeDrive(path string) driveType {
	return driveUnknown
}
