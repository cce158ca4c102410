package sshtail

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrTailRunning is returned by Tail when a previous Tail on the same
// MultiTailer has not finished.
var ErrTailRunning = errors.New("tail already running")

// ConnectionError reports a failure to establish the SSH session or its SFTP
// sub-session: dial, handshake, authentication or subsystem setup.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteFileError reports a stat, open, seek or read failure on an
// established session.
type RemoteFileError struct {
	Host string
	Path string
	Op   string
	Err  error
}

func (e *RemoteFileError) Error() string {
	return fmt.Sprintf("%s %s:%s: %v", e.Op, e.Host, e.Path, e.Err)
}

func (e *RemoteFileError) Unwrap() error { return e.Err }

// NotFound reports whether the remote file does not exist.
func (e *RemoteFileError) NotFound() bool {
	return errors.Is(e.Err, fs.ErrNotExist)
}

// PermissionDenied reports whether the remote side refused access.
func (e *RemoteFileError) PermissionDenied() bool {
	return errors.Is(e.Err, fs.ErrPermission)
}
