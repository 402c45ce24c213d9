//go:build emrelay_notls

package digest

// Built with -tags emrelay_notls: no external crypto library is loaded, so
// only the built-in MD5 (md5.go) is registered. Mechanisms that need
// SHA-1/SHA-256/SHA3 fail with ErrNoTls.
