package remotefs

import "io"

// CloseFunc runs when a read stream opened on a session is closed. It
// receives the session that served the read, still borrowed.
type CloseFunc func(Session)

// Session is one connected and authenticated protocol handle. A session is
// owned by a single borrower at a time and none of its methods may be called
// concurrently.
//
// Any I/O failure of a stateful operation destroys the underlying connection
// before the error is returned, and Invalid reports true from then on. A
// negative reply from the server to Delete or Move leaves the session usable.
type Session interface {
	ID() string

	ChangeWorkingDirectory(dir string, create bool) error
	CurrentDirectory() string

	// OpenWriter changes to dir, creating it when missing, and opens an
	// upload of filename. Closing the writer completes the transfer.
	OpenWriter(dir, filename string) (io.WriteCloser, error)
	// OpenReader changes to dir and opens a download of filename. The reader
	// closes itself at EOF; onClose then runs with this session.
	OpenReader(dir, filename string, onClose CloseFunc) (io.ReadCloser, error)

	Delete(dir, filename string) error
	// Move renames from into to. Both are resolved against the current
	// working directory of the session.
	Move(from, to string) error
	List(dir string) ([]RemoteFile, error)

	Validate() bool
	Invalid() bool
	Destroy() error
}
