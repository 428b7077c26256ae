// Package guard produces the time based login codes, request signing keys
// and device identifier derived from an account's shared secrets.
package guard

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSecret is returned when a shared or identity secret is not
// valid standard base64.
var ErrInvalidSecret = errors.New("guard: secret is not valid base64")

// codeAlphabet is the fixed character set for login codes.
const codeAlphabet = "23456789BCDFGHJKMNPQRTVWXY"

// codePeriod is the validity window of a single login code.
const codePeriod = 30 * time.Second

// TimeCode derives the five character login code for the given moment from
// the account's shared secret. Any two calls inside the same thirty second
// window produce the same code.
func TimeCode(sharedSecret string, now time.Time) (string, error) {
	key, err := base64.StdEncoding.DecodeString(sharedSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(now.Unix())/uint64(codePeriod.Seconds()))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	digest := mac.Sum(nil)

	offset := digest[len(digest)-1] & 0xF
	value := binary.BigEndian.Uint32(digest[offset:offset+4]) & 0x7FFFFFFF

	code := make([]byte, 5)
	for i := range code {
		code[i] = codeAlphabet[value%uint32(len(codeAlphabet))]
		value /= uint32(len(codeAlphabet))
	}
	return string(code), nil
}

// ConfirmationKey signs a confirmation request for the given moment and
// operation tag with the account's identity secret. The result is the
// base64 encoded twenty byte HMAC-SHA1 digest.
func ConfirmationKey(identitySecret string, now time.Time, tag string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(identitySecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	msg := make([]byte, 8, 8+len(tag))
	binary.BigEndian.PutUint64(msg, uint64(now.Unix()))
	msg = append(msg, tag...)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// DeviceID derives the stable pseudo device identifier for a steam id. The
// same steam id always maps to the same identifier.
func DeviceID(steamID string) string {
	sum := sha1.Sum([]byte(steamID))
	hex := fmt.Sprintf("%x", sum)
	return fmt.Sprintf("android:%s-%s-%s-%s-%s",
		hex[0:8], hex[8:12], hex[12:16], hex[16:20], hex[20:32])
}
