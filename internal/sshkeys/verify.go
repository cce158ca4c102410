package sshkeys

import (
	"golang.org/x/crypto/ssh"
)

// Fingerprint returns the SHA256 fingerprint of a public key (SHA256:xxx).
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}
