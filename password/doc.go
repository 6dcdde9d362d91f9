// Package password hashes and verifies master-user passwords with Argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash segments are written unpadded; padded segments produced by
// other implementations are accepted on verify.
package password
