package remotefs

import (
	"fmt"
	"time"
)

// FileType classifies a directory entry returned by a listing.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeFile
	FileTypeDirectory
	FileTypeSymlink
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "FILE"
	case FileTypeDirectory:
		return "DIRECTORY"
	case FileTypeSymlink:
		return "SYMBOLIC_LINK"
	default:
		return "UNKNOWN"
	}
}

// RemoteFile describes one entry of a remote directory listing. It is a
// plain value: copies never share state.
type RemoteFile struct {
	fileType  FileType
	name      string
	size      int64
	timestamp time.Time
}

// NewRemoteFile builds a RemoteFile. A negative size means the size is not
// known; a zero timestamp means the server did not report one.
func NewRemoteFile(fileType FileType, name string, size int64, timestamp time.Time) RemoteFile {
	if size < 0 {
		size = -1
	}
	return RemoteFile{
		fileType:  fileType,
		name:      name,
		size:      size,
		timestamp: timestamp,
	}
}

func (f RemoteFile) Type() FileType { return f.fileType }

func (f RemoteFile) Name() string { return f.name }

// Size returns the size in bytes, or -1 when unknown.
func (f RemoteFile) Size() int64 { return f.size }

// Timestamp returns the modification time and whether one was reported.
func (f RemoteFile) Timestamp() (time.Time, bool) {
	return f.timestamp, !f.timestamp.IsZero()
}

func (f RemoteFile) IsFile() bool { return f.fileType == FileTypeFile }

func (f RemoteFile) String() string {
	ts := "<nil>"
	if t, ok := f.Timestamp(); ok {
		ts = t.Format(time.RFC3339)
	}
	return fmt.Sprintf("RemoteFile [name=%s, type=%s, size=%d, timestamp=%s]", f.name, f.fileType, f.size, ts)
}
