package base

import (
	"fmt"
	"strconv"
	"strings"
)

// FileType enumerates the kinds of files found in a database directory.
type FileType int

const (
	FileTypeWAL FileType = iota
	FileTypeLock
	FileTypeTable
	FileTypeManifest
	FileTypeCurrent
	FileTypeTemp
)

var fileTypeSuffix = map[FileType]string{
	FileTypeWAL:   "wal",
	FileTypeTable: "sst",
}

// MakeFilename builds the on-disk name for a numbered file.
func MakeFilename(ft FileType, num uint64) string {
	switch ft {
	case FileTypeLock:
		return "LOCK"
	case FileTypeCurrent:
		return "CURRENT"
	case FileTypeManifest:
		return fmt.Sprintf("MANIFEST-%06d", num)
	case FileTypeWAL:
		return fmt.Sprintf("%06d.wal", num)
	case FileTypeTable:
		return fmt.Sprintf("%06d.sst", num)
	case FileTypeTemp:
		return fmt.Sprintf("%06d.tmp", num)
	default:
		panic("base: unknown file type")
	}
}

// ParseFilename parses name, returning its type and (if numbered) its file
// number. ok is false if name does not match any recognized pattern.
func ParseFilename(name string) (ft FileType, num uint64, ok bool) {
	switch {
	case name == "LOCK":
		return FileTypeLock, 0, true
	case name == "CURRENT":
		return FileTypeCurrent, 0, true
	case strings.HasPrefix(name, "MANIFEST-"):
		n, err := strconv.ParseUint(strings.TrimPrefix(name, "MANIFEST-"), 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return FileTypeManifest, n, true
	case strings.HasSuffix(name, ".wal"):
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".wal"), 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return FileTypeWAL, n, true
	case strings.HasSuffix(name, ".sst"):
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".sst"), 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return FileTypeTable, n, true
	case strings.HasSuffix(name, ".tmp"):
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".tmp"), 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return FileTypeTemp, n, true
	default:
		return 0, 0, false
	}
}
