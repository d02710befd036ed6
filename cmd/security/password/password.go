package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// phcVersion is argon2.Version in decimal.
const phcVersion = "19"

// phcPrefix starts every stored hash: $argon2id$v=19$m=..,t=..,p=..$salt$key
const phcPrefix = "$argon2id$v=" + phcVersion

var b64 = base64.RawStdEncoding

// digest is a parsed PHC-format Argon2id hash.
type digest struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (d digest) String() string {
	return fmt.Sprintf("%s$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, d.params.MemoryKiB, d.params.Iterations, d.params.Parallelism,
		b64.EncodeToString(d.salt), b64.EncodeToString(d.key))
}

// Hash validates pw against the policy and returns its encoded Argon2id hash.
func (c Config) Hash(pw string) (string, error) {
	if err := c.Validate(pw); err != nil {
		return "", err
	}
	d := digest{params: c.Params, salt: make([]byte, c.Params.SaltLength)}
	if _, err := rand.Read(d.salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	d.key = derive(pw, d.salt, c.Params, c.Params.KeyLength)
	return d.String(), nil
}

// Verify reports whether pw matches encoded. A malformed hash, or one whose
// cost exceeds twice the configured cost, yields ErrInvalidHash.
func (c Config) Verify(encoded, pw string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	if !c.affordable(d.params) {
		return false, ErrInvalidHash
	}
	got := derive(pw, d.salt, d.params, d.params.KeyLength)
	return subtle.ConstantTimeCompare(got, d.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with parameters other than
// the configured ones. Malformed hashes always need rehashing.
func (c Config) NeedsRehash(encoded string) bool {
	d, err := parseDigest(encoded)
	if err != nil {
		return true
	}
	return d.params != c.Params
}

func derive(pw string, salt []byte, p Argon2idParams, keyLen uint32) []byte {
	return argon2.IDKey([]byte(pw), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// affordable bounds attacker-supplied cost. Hashes made with smaller settings
// remain verifiable.
func (c Config) affordable(p Argon2idParams) bool {
	lim := c.Params
	switch {
	case p.MemoryKiB > lim.MemoryKiB*2, p.Iterations > lim.Iterations*2, p.Parallelism > lim.Parallelism*2:
		return false
	case p.SaltLength < 8 || p.SaltLength > 64:
		return false
	case p.KeyLength < 16 || p.KeyLength > 128:
		return false
	}
	return true
}

func parseDigest(encoded string) (digest, error) {
	rest, ok := strings.CutPrefix(encoded, phcPrefix+"$")
	if !ok {
		return digest{}, ErrInvalidHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 3 {
		return digest{}, ErrInvalidHash
	}

	var p Argon2idParams
	for _, kv := range strings.Split(fields[0], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return digest{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return digest{}, ErrInvalidHash
		}
		switch k {
		case "m":
			p.MemoryKiB = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return digest{}, ErrInvalidHash
			}
			p.Parallelism = uint8(n)
		default:
			return digest{}, ErrInvalidHash
		}
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return digest{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(fields[1])
	if err != nil {
		return digest{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(fields[2])
	if err != nil {
		return digest{}, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt)) // #nosec G115 -- bounded by affordable().
	p.KeyLength = uint32(len(key))   // #nosec G115 -- bounded by affordable().

	return digest{params: p, salt: salt, key: key}, nil
}
