// Package credential derives and verifies one-way password digests using
// Argon2id. Digests are self-describing strings:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<parallelism>$<salt>$<key>
//
// with salt and key in unpadded standard base64.
package credential
