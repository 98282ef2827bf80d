package push

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// recordSize is the single-record rs value for aes128gcm encoding (RFC
// 8188); payloads here are always small enough to fit one record.
const recordSize = 4096

// encryptPayload implements RFC 8291 message encryption for Web Push: an
// ECDH key agreement with the subscriber's p256dh key, HKDF-derived content
// encryption key and nonce salted with the subscriber's auth secret, and
// an RFC 8188 aes128gcm envelope around the AES-128-GCM ciphertext.
func encryptPayload(p256dhB64, authB64 string, plaintext []byte) ([]byte, error) {
	subscriberKeyBytes, err := decodeB64(p256dhB64)
	if err != nil {
		return nil, fmt.Errorf("invalid p256dh key: %w", err)
	}
	authSecret, err := decodeB64(authB64)
	if err != nil {
		return nil, fmt.Errorf("invalid auth secret: %w", err)
	}

	curve := ecdh.P256()
	subscriberKey, err := curve.NewPublicKey(subscriberKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid subscriber ecdh point: %w", err)
	}

	serverKey, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral ecdh key: %w", err)
	}

	sharedSecret, err := serverKey.ECDH(subscriberKey)
	if err != nil {
		return nil, fmt.Errorf("ecdh key agreement failed: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	serverPublicRaw := serverKey.PublicKey().Bytes()
	subscriberPublicRaw := subscriberKey.Bytes()

	prkInfo := buildKeyInfo(subscriberPublicRaw, serverPublicRaw)
	prk := hkdfExpand(authSecret, sharedSecret, prkInfo, 32)

	cek := hkdfExpand(salt, prk, []byte("Content-Encoding: aes128gcm\x00"), 16)
	nonce := hkdfExpand(salt, prk, []byte("Content-Encoding: nonce\x00"), 12)

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("failed to build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build gcm aead: %w", err)
	}

	// Single-record padding delimiter (RFC 8188 §2): 0x02 marks the last
	// (and here only) record, followed by zero bytes of padding.
	padded := append(append([]byte{}, plaintext...), 0x02)
	ciphertext := gcm.Seal(nil, nonce, padded, nil)

	header := make([]byte, 16+4+1+len(serverPublicRaw))
	copy(header[0:16], salt)
	binary.BigEndian.PutUint32(header[16:20], recordSize)
	header[20] = byte(len(serverPublicRaw))
	copy(header[21:], serverPublicRaw)

	return append(header, ciphertext...), nil
}

// buildKeyInfo builds the "WebPush: info" HKDF info parameter from RFC
// 8291 §3.4: the NUL-terminated fixed label, followed directly by the
// subscriber's public key and the server's ephemeral public key.
func buildKeyInfo(subscriberPublic, serverPublic []byte) []byte {
	info := []byte("WebPush: info\x00")
	info = append(info, subscriberPublic...)
	info = append(info, serverPublic...)
	return info
}

// hkdfExpand runs the full HKDF-extract-then-expand over ikm with the
// given salt and info, returning n derived bytes.
func hkdfExpand(salt, ikm, info []byte, n int) []byte {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, n)
	_, _ = io.ReadFull(reader, out)
	return out
}

func decodeB64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
