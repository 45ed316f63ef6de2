package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/taziji/ChinaRMBSite/internal/errors"
)

// OWASP-recommended argon2id parameters, used when hashing
// environment-supplied passwords and the decoy credential.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// Algorithm identifies the hash scheme of a stored credential.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Store holds credentials keyed by username. All hashes are validated
// at load time; the store is immutable afterwards and safe for
// concurrent use.
type Store struct {
	entries map[string]credential
	decoy   credential
}

type credential struct {
	algorithm Algorithm

	// bcrypt keeps the full encoded hash; argon2id entries are parsed
	// into their components at load time.
	bcryptHash []byte
	argon      argon2Credential
}

type argon2Credential struct {
	salt    []byte
	hash    []byte
	time    uint32
	memory  uint32
	threads uint8
}

// BuildStore assembles the credential store from the configured
// sources. File entries load first; the environment pair is added
// afterwards and wins on username collision. Returns a nil store when
// neither source is set, which disables the gate entirely.
//
// Any unreadable file, malformed line, duplicate user, or unsupported
// hash fails the whole load. A store is never built from a partially
// parsed file.
func BuildStore(filePath, envUser, envPassword string) (*Store, error) {
	if filePath == "" && envUser == "" {
		return nil, nil
	}

	entries := make(map[string]credential)
	if filePath != "" {
		loaded, err := parseCredentialFile(filePath)
		if err != nil {
			return nil, err
		}
		entries = loaded
	}

	if envUser != "" {
		if strings.Contains(envUser, ":") {
			return nil, apperrors.LoadError("BASIC_AUTH_USER must not contain ':'", nil)
		}
		if envPassword == "" {
			return nil, apperrors.LoadError("BASIC_AUTH_PASSWORD is empty", nil)
		}
		cred, err := hashPassword(envPassword)
		if err != nil {
			return nil, err
		}
		entries[envUser] = cred
	}

	decoy, err := newDecoy()
	if err != nil {
		return nil, err
	}

	return &Store{entries: entries, decoy: decoy}, nil
}

// Load reads an htpasswd-style credential file. Each line is
// "username:hash"; blank lines and lines starting with '#' are skipped.
func Load(path string) (*Store, error) {
	if path == "" {
		return nil, apperrors.LoadError("credential file path is empty", nil)
	}
	return BuildStore(path, "", "")
}

// FromCredentials builds a single-user store from a plaintext pair,
// hashing the password with argon2id so the plaintext is not retained.
func FromCredentials(username, password string) (*Store, error) {
	if username == "" {
		return nil, apperrors.LoadError("username is empty", nil)
	}
	return BuildStore("", username, password)
}

// Verify reports whether password matches the stored credential for
// username. Unknown usernames burn the same argon2id work as a real
// verification so response timing does not reveal which usernames
// exist.
func (s *Store) Verify(username, password string) bool {
	cred, ok := s.entries[username]
	if !ok {
		s.decoy.matches(password)
		return false
	}
	return cred.matches(password)
}

// Len returns the number of distinct users in the store.
func (s *Store) Len() int {
	return len(s.entries)
}

// HashPassword returns the argon2id PHC encoding of password, suitable
// for a credential file entry.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", apperrors.LoadError("password is empty", nil)
	}
	cred, err := hashPassword(password)
	if err != nil {
		return "", err
	}
	return encodePHC(cred.argon), nil
}

func (c credential) matches(password string) bool {
	switch c.algorithm {
	case AlgorithmBcrypt:
		return bcrypt.CompareHashAndPassword(c.bcryptHash, []byte(password)) == nil
	case AlgorithmArgon2id:
		computed := argon2.IDKey([]byte(password), c.argon.salt, c.argon.time, c.argon.memory, c.argon.threads, uint32(len(c.argon.hash)))
		return subtle.ConstantTimeCompare(computed, c.argon.hash) == 1
	default:
		return false
	}
}

func parseCredentialFile(path string) (map[string]credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.LoadError("opening credential file", err).WithContext("path", path)
	}
	defer f.Close()

	entries := make(map[string]credential)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		username, encoded, found := strings.Cut(line, ":")
		if !found || username == "" || encoded == "" {
			return nil, apperrors.LoadError(fmt.Sprintf("malformed credential entry on line %d", lineNo), nil).WithContext("path", path)
		}
		if _, exists := entries[username]; exists {
			return nil, apperrors.LoadError(fmt.Sprintf("duplicate user %q on line %d", username, lineNo), nil).WithContext("path", path)
		}

		cred, err := parseHash(encoded)
		if err != nil {
			return nil, apperrors.LoadError(fmt.Sprintf("invalid hash for user %q on line %d", username, lineNo), err).WithContext("path", path)
		}
		entries[username] = cred
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.LoadError("reading credential file", err).WithContext("path", path)
	}
	if len(entries) == 0 {
		return nil, apperrors.LoadError("credential file contains no entries", nil).WithContext("path", path)
	}

	return entries, nil
}

func parseHash(encoded string) (credential, error) {
	switch {
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		if _, err := bcrypt.Cost([]byte(encoded)); err != nil {
			return credential{}, err
		}
		return credential{algorithm: AlgorithmBcrypt, bcryptHash: []byte(encoded)}, nil
	case strings.HasPrefix(encoded, "$argon2id$"):
		return parseArgon2id(encoded)
	default:
		return credential{}, fmt.Errorf("unsupported hash format")
	}
}

// parseArgon2id decodes a PHC string of the form
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>.
func parseArgon2id(encoded string) (credential, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return credential{}, fmt.Errorf("argon2id: want 6 fields, got %d", len(parts))
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return credential{}, fmt.Errorf("argon2id: parsing version: %w", err)
	}
	if version != argon2.Version {
		return credential{}, fmt.Errorf("argon2id: unsupported version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return credential{}, fmt.Errorf("argon2id: parsing parameters: %w", err)
	}
	if time == 0 {
		return credential{}, fmt.Errorf("argon2id: iteration count must be positive")
	}
	if threads == 0 || threads > 255 {
		return credential{}, fmt.Errorf("argon2id: parallelism %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return credential{}, fmt.Errorf("argon2id: decoding salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return credential{}, fmt.Errorf("argon2id: decoding hash: %w", err)
	}
	if len(hash) == 0 {
		return credential{}, fmt.Errorf("argon2id: empty hash")
	}

	return credential{
		algorithm: AlgorithmArgon2id,
		argon: argon2Credential{
			salt:    salt,
			hash:    hash,
			time:    time,
			memory:  memory,
			threads: uint8(threads),
		},
	}, nil
}

func hashPassword(password string) (credential, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return credential{}, apperrors.LoadError("generating credential salt", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return credential{
		algorithm: AlgorithmArgon2id,
		argon: argon2Credential{
			salt:    salt,
			hash:    hash,
			time:    argon2Time,
			memory:  argon2Memory,
			threads: argon2Threads,
		},
	}, nil
}

// newDecoy builds the credential checked for unknown usernames. Its
// hash is random bytes, never derived from a password, so it cannot
// verify; it only equalizes the work done per attempt.
func newDecoy() (credential, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return credential{}, apperrors.LoadError("generating decoy credential", err)
	}
	hash := make([]byte, argon2KeyLen)
	if _, err := rand.Read(hash); err != nil {
		return credential{}, apperrors.LoadError("generating decoy credential", err)
	}

	return credential{
		algorithm: AlgorithmArgon2id,
		argon: argon2Credential{
			salt:    salt,
			hash:    hash,
			time:    argon2Time,
			memory:  argon2Memory,
			threads: argon2Threads,
		},
	}, nil
}

func encodePHC(c argon2Credential) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		c.memory,
		c.time,
		c.threads,
		base64.RawStdEncoding.EncodeToString(c.salt),
		base64.RawStdEncoding.EncodeToString(c.hash),
	)
}
