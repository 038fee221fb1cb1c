// Package crypto seals export artifacts with a user-supplied password.
// The format is a fixed header (magic, version, salt, nonce) followed by
// an AES-256-GCM ciphertext; the key is derived with Argon2id.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	// MagicBytes identifies a sealed star-export artifact.
	MagicBytes = "SXP1"

	FormatVersion = 1

	// Argon2id parameters (OWASP recommended)
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	keyLen        = 32 // AES-256

	saltSize  = 32
	nonceSize = 12

	headerSize = 4 + 4 + saltSize + nonceSize
)

var (
	ErrNotSealed     = errors.New("not a sealed star-export artifact")
	ErrBadVersion    = errors.New("unsupported seal format version")
	ErrDecryptFailed = errors.New("decryption failed: wrong password or corrupted data")
)

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, keyLen)
}

// Seal encrypts plaintext under the password and returns the sealed
// bytes with the format header prepended.
func Seal(plaintext []byte, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, headerSize+len(ciphertext))
	copy(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	copy(out[8:8+saltSize], salt)
	copy(out[8+saltSize:headerSize], nonce)
	copy(out[headerSize:], ciphertext)

	return out, nil
}

// Open decrypts bytes produced by Seal.
func Open(data []byte, password string) ([]byte, error) {
	if len(data) < headerSize || string(data[0:4]) != MagicBytes {
		return nil, ErrNotSealed
	}
	if binary.LittleEndian.Uint32(data[4:8]) != FormatVersion {
		return nil, ErrBadVersion
	}

	salt := data[8 : 8+saltSize]
	nonce := data[8+saltSize : headerSize]
	ciphertext := data[headerSize:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// SealFile encrypts srcPath into dstPath.
func SealFile(srcPath, dstPath, password string) error {
	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	sealed, err := Seal(plaintext, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, sealed, 0644); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return nil
}

// OpenFile decrypts a sealed file and returns its contents.
func OpenFile(path, password string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Open(data, password)
}

// IsSealed reports whether data carries the sealed-artifact magic.
func IsSealed(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == MagicBytes
}
