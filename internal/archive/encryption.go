package archive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// encryptionMagic prefixes encrypted archive files so readers can tell
// them apart from plain archives.
var encryptionMagic = []byte("OBTE1")

const (
	saltSize       = 32
	pbkdf2Iters    = 100000
	derivedKeySize = 32 // AES-256
)

// IsEncrypted reports whether the file carries the encrypted-archive header.
func IsEncrypted(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(encryptionMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, encryptionMagic), nil
}

// deriveKey stretches a passphrase into an AES-256 key.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, derivedKeySize, sha256.New)
}

// EncryptFile seals src into dst with AES-256-GCM under a key derived
// from the passphrase. Layout: magic | salt | nonce | ciphertext.
func EncryptFile(src, dst, passphrase string) error {
	if passphrase == "" {
		return &EncryptionError{Message: "passphrase must not be empty"}
	}

	plaintext, err := os.ReadFile(src)
	if err != nil {
		return &EncryptionError{Message: "reading archive", Cause: err}
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return &EncryptionError{Message: "generating salt", Cause: err}
	}

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return &EncryptionError{Message: "generating nonce", Cause: err}
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	var buf bytes.Buffer
	buf.Write(encryptionMagic)
	buf.Write(salt)
	buf.Write(nonce)
	buf.Write(sealed)

	if err := os.WriteFile(dst, buf.Bytes(), 0600); err != nil {
		return &EncryptionError{Message: "writing encrypted archive", Cause: err}
	}
	return nil
}

// DecryptFile opens an encrypted archive written by EncryptFile.
func DecryptFile(src, dst, passphrase string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return &EncryptionError{Message: "reading encrypted archive", Cause: err}
	}

	if len(data) < len(encryptionMagic)+saltSize || !bytes.Equal(data[:len(encryptionMagic)], encryptionMagic) {
		return &EncryptionError{Message: "file is not an encrypted archive"}
	}
	data = data[len(encryptionMagic):]

	salt, rest := data[:saltSize], data[saltSize:]
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return err
	}

	if len(rest) < gcm.NonceSize() {
		return &EncryptionError{Message: "encrypted archive is truncated"}
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return &EncryptionError{Message: "decryption failed - wrong passphrase or corrupt file", Cause: err}
	}

	if err := os.WriteFile(dst, plaintext, 0600); err != nil {
		return &EncryptionError{Message: "writing decrypted archive", Cause: err}
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &EncryptionError{Message: "creating cipher", Cause: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &EncryptionError{Message: "creating GCM", Cause: err}
	}
	return gcm, nil
}
