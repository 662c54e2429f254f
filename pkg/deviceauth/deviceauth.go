package deviceauth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Errors returned by header validation and key verification.
var (
	ErrMissingCredentials = errors.New("device authentication required")
	ErrInvalidKey         = errors.New("invalid device key")
)

// Credentials are the device-key/MAC pair ESP32 firmware sends on the REST
// ingestion path (X-Device-Key / X-Device-MAC headers).
type Credentials struct {
	MACAddress string
	DeviceKey  string
}

// FromHeaders validates and normalizes the raw header values.
func FromHeaders(deviceKey, macAddress string) (Credentials, error) {
	if deviceKey == "" || macAddress == "" {
		return Credentials{}, ErrMissingCredentials
	}
	return Credentials{
		MACAddress: NormalizeMAC(macAddress),
		DeviceKey:  deviceKey,
	}, nil
}

// NormalizeMAC upper-cases a MAC address and converts dash separators to
// colons, the form device documents are provisioned with.
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}

// HashKey derives the bcrypt hash stored in the device document at
// provisioning time.
func HashKey(deviceKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(deviceKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyKey checks a presented key against the stored hash. Devices
// provisioned without a key hash are accepted; key enforcement starts once
// provisioning writes the hash.
func VerifyKey(storedHash, deviceKey string) error {
	if storedHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(deviceKey)); err != nil {
		return ErrInvalidKey
	}
	return nil
}
