// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes use the PHC-like encoding
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>.
// Encoded hashes are treated as untrusted input: Verify refuses parameters far
// above the configured cost.
//
// Policy covers length bounds, a letter+digit requirement and an optional
// trivial-pattern check. All knobs are read from FINTRACK_PASSWORD_* and
// FINTRACK_ARGON2_* by FromEnv.
package password
