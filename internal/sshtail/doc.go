// Package sshtail follows files on many remote hosts at once, like
// "tail -f" over SSH.
//
// A [Watcher] owns one SSH/SFTP session to one host and tracks one remote
// file. A [MultiTailer] owns a set of watchers and merges their output into
// a single stream of [Line] values.
//
// # Polling
//
// Nothing is pushed by the remote side. Each watcher stats its file once per
// round:
//
//   - First poll: the size is recorded and nothing is delivered. Tailing
//     starts from the end of the file as it was when first seen.
//   - Size grew: the file is opened, the read position is moved to the end of
//     the last delivered record, and every complete newline-terminated record
//     up to EOF is delivered with its trailing "\r"/"\n" characters removed.
//   - Size unchanged or smaller: nothing is delivered.
//
// A record without a trailing newline is held back until the newline
// arrives, then delivered once.
//
// # Truncation
//
// A file that shrinks is not treated as rotated: there is no inode check and
// no reopen from zero. The read position is simply moved to the new, smaller
// size. Anything written below the old size before the next poll is never
// delivered, and a file that is truncated and then regrows past its old size
// between two polls is read from the old position.
//
// # Rounds
//
// [MultiTailer.Tail] polls every watcher in turn, in map order, then either
// starts the next round immediately (some watcher produced a line) or sleeps
// for the poll interval (nothing did). Polling is sequential: a slow host
// delays every other host in the round.
//
// # Failure
//
// A failing watcher ends the whole tail. The stream's channel is closed,
// [Stream.Err] reports a [*ConnectionError] or [*RemoteFileError], and every
// session is torn down. Restarting means calling Tail again, which reconnects
// from scratch and forgets all positions.
//
// # Log Prefixes
//
// Lifecycle events log at the [sshtail] prefix; connection details come from
// package sshconn at [sshconn].
package sshtail
