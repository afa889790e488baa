package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/user"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySalt    = "rolechat-store-key"
	ivSalt     = "rolechat-store-iv"
	iterations = 4096
)

var errBadPadding = errors.New("invalid padding")

// Codec performs deterministic AES-256-CBC encryption for the on-disk
// stores. The key and IV are derived once from stable machine/user identity
// strings, so the same machine and account always produce the same
// ciphertext for a given plaintext, and files written on one machine cannot
// be decrypted on another. No nonce or salt is persisted alongside the data.
type Codec struct {
	key []byte
	iv  []byte
}

// NewCodec builds a codec keyed from the current machine and user.
func NewCodec() *Codec {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return NewCodecFromIdentity(
		fmt.Sprintf("RoleChat_%s_%s_StoreKey!", host, currentUsername()),
		fmt.Sprintf("RoleChat_IV_%s", host),
	)
}

// NewCodecFromIdentity derives the key and IV from explicit identity
// strings. Both derivations are one-way; the identity strings never appear
// in the output.
func NewCodecFromIdentity(keyIdentity, ivIdentity string) *Codec {
	return &Codec{
		key: pbkdf2.Key([]byte(keyIdentity), []byte(keySalt), iterations, 32, sha256.New),
		iv:  pbkdf2.Key([]byte(ivIdentity), []byte(ivSalt), iterations, aes.BlockSize, sha256.New),
	}
}

// Encrypt returns the base64 ciphertext for plain. An empty input encrypts
// to the empty string. Callers that persist data are expected to fall back
// to writing the plaintext when an error is returned, so pre-encryption
// files remain readable.
func (c *Codec) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	padded := pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. The boolean reports whether decryption actually
// happened: when the input is not valid ciphertext for this codec (foreign
// machine, corruption, or a legacy unencrypted file) the input is returned
// unchanged with ok=false. Callers treat a subsequent JSON decode failure
// as the true corruption signal.
func (c *Codec) Decrypt(input string) (string, bool) {
	if input == "" {
		return "", false
	}

	raw, err := base64.StdEncoding.DecodeString(input)
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return input, false
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return input, false
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, raw)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return input, false
	}

	return string(plain), true
}

// pad applies PKCS#7 padding.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding, validating every padding byte.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return os.Getenv("USERNAME")
}
