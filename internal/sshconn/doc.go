// Package sshconn opens the SSH and SFTP sessions that tail watchers read
// through.
//
// It wraps golang.org/x/crypto/ssh and github.com/pkg/sftp; nothing here
// speaks the wire protocols itself. The package owns three decisions:
//
//   - Who to log in as. [ParseHost] splits "[user@]host[:port]" identities.
//     An identity without a user falls back to [Options.DefaultUser].
//   - How to authenticate. An explicit [Options.Signer] wins. Without one the
//     dialer offers keys from the SSH agent at [Options.AgentSocket] and any
//     readable [Options.IdentityFiles].
//   - Which host keys to trust. See [HostKeyPolicy]. The default,
//     [HostKeyAutoAdd], accepts and remembers hosts it has never seen and
//     rejects hosts whose key changed.
//
// # Timeouts
//
// [Options.ConnectTimeout] bounds the TCP dial and SSH handshake. Nothing
// bounds individual SFTP calls; a stalled host stalls its caller.
//
// # Log Prefixes
//
// Connection events log at the [sshconn] prefix. Progress messages are only
// written when [Options.Verbose] is set.
package sshconn
