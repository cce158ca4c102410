// Package sshkeys loads and inspects the private keys used to authenticate
// tail sessions.
//
// # Key Resolution
//
// A [Loader] resolves key names against an explicit home directory rather
// than reading $HOME itself:
//
//   - "id_rsa" (no path separator) resolves to <HomeDir>/.ssh/id_rsa
//   - "./keys/deploy" or "/etc/sshtail/key" are used exactly as given
//
// [DefaultHomeDir] is the only place that consults the process environment,
// and only the configuration layer calls it.
//
// # Key Types
//
// RSA and DSS keys have separate entry points, [Loader.LoadRSAKey] and
// [Loader.LoadDSSKey]. There is no auto-detection: loading a DSA key through
// the RSA entry point fails with [ErrKeyType]. Both PEM ("RSA PRIVATE KEY",
// "DSA PRIVATE KEY") and OpenSSH ("OPENSSH PRIVATE KEY") encodings are
// accepted where golang.org/x/crypto/ssh can parse them. Encrypted keys need
// [Loader.Passphrase].
//
// # Usage
//
//	loader := sshkeys.Loader{HomeDir: home}
//	signer, err := loader.LoadRSAKey("id_rsa")
//	if err != nil { ... }
//	log.Printf("using key %s", sshkeys.Fingerprint(signer.PublicKey()))
package sshkeys
