// Package password validates and hashes the new password set by a redeemed
// CHANGE_PASSWORD or FORGOT_PASSWORD action token.
//
// Hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes made with weaker parameters so callers
// can upgrade them on the next successful sign-in.
//
// This package must not import goVerify or log plaintext passwords.
package password
