package gree

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Protocol key material shared by every appliance.
const (
	// GenericKey encrypts ECB packs until a device key is known.
	GenericKey = "a3K8Bx%2r8Y7#xDh"

	// GenericGCMKey encrypts GCM packs until a device key is known.
	GenericGCMKey = "{yxAHAY_Lm6pbC/<"

	// gcmAdditionalData is authenticated but not encrypted on every GCM pack.
	gcmAdditionalData = "qualcomm-test"
)

// gcmNonce is fixed by the firmware. See the package documentation.
var gcmNonce = [12]byte{0x54, 0x40, 0x78, 0x44, 0x49, 0x67, 0x5a, 0x51, 0x6c, 0x5e, 0x63, 0x13}

// Envelope is the encrypted part of a protocol message.
// Tag is set only for GCM packs.
type Envelope struct {
	Pack string `json:"pack"`
	Tag  string `json:"tag,omitempty"`
}

// IsGCM reports whether the envelope carries a GCM authentication tag.
func (e Envelope) IsGCM() bool {
	return e.Tag != ""
}

// Encrypt wraps a JSON plaintext in an envelope.
// An empty key selects the generic key for the chosen scheme.
func Encrypt(plaintext []byte, key string, gcm bool) (Envelope, error) {
	if gcm {
		return encryptGCM(plaintext, keyOrDefault(key, GenericGCMKey))
	}
	return encryptECB(plaintext, keyOrDefault(key, GenericKey))
}

// Decrypt opens an envelope and returns the JSON plaintext.
// The GCM scheme is used when gcm is true or the envelope carries a tag.
func Decrypt(env Envelope, key string, gcm bool) ([]byte, error) {
	var (
		plain []byte
		err   error
	)
	if gcm || env.IsGCM() {
		plain, err = decryptGCM(env, keyOrDefault(key, GenericGCMKey))
	} else {
		plain, err = decryptECB(env.Pack, keyOrDefault(key, GenericKey))
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(plain) {
		return nil, fmt.Errorf("%w: pack is not valid JSON", ErrCrypto)
	}
	return plain, nil
}

func keyOrDefault(key, fallback string) string {
	if key == "" {
		return fallback
	}
	return key
}

func newBlock(key string) (cipher.Block, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return block, nil
}

func encryptECB(plaintext []byte, key string) (Envelope, error) {
	block, err := newBlock(key)
	if err != nil {
		return Envelope{}, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}

	return Envelope{Pack: base64.StdEncoding.EncodeToString(out)}, nil
}

func decryptECB(pack, key string) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding pack: %w", ErrCrypto, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: pack length %d is not a multiple of the block size", ErrCrypto, len(data))
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}

	// Padding and trailing garbage are cut at the last closing brace.
	end := bytes.LastIndexByte(out, '}')
	if end < 0 {
		return nil, fmt.Errorf("%w: no JSON object in pack", ErrCrypto)
	}
	return out[:end+1], nil
}

func newGCM(key string) (cipher.AEAD, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return aead, nil
}

func encryptGCM(plaintext []byte, key string) (Envelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return Envelope{}, err
	}

	sealed := aead.Seal(nil, gcmNonce[:], plaintext, []byte(gcmAdditionalData))
	split := len(sealed) - aead.Overhead()

	return Envelope{
		Pack: base64.StdEncoding.EncodeToString(sealed[:split]),
		Tag:  base64.StdEncoding.EncodeToString(sealed[split:]),
	}, nil
}

func decryptGCM(env Envelope, key string) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Pack)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding pack: %w", ErrCrypto, err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding tag: %w", ErrCrypto, err)
	}
	if len(tag) != aead.Overhead() {
		return nil, fmt.Errorf("%w: tag length %d, want %d", ErrCrypto, len(tag), aead.Overhead())
	}

	plain, err := aead.Open(nil, gcmNonce[:], append(ciphertext, tag...), []byte(gcmAdditionalData))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrCrypto)
	}

	return bytes.ReplaceAll(plain, []byte{0xff}, nil), nil
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}
