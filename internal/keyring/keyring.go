// Package keyring stores wplace session tokens in the OS keychain, keyed by
// user identifier.
package keyring

import (
	"errors"
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
)

const serviceName = "wpaint"

// ErrNotFound is returned when no token is stored for the identifier.
var ErrNotFound = zkr.ErrNotFound

// GetToken retrieves the token stored for identifier.
func GetToken(identifier string) (string, error) {
	if disabled() {
		return "", ErrNotFound
	}
	tok, err := zkr.Get(serviceName, identifier)
	if err != nil {
		if errors.Is(err, zkr.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return tok, nil
}

// SetToken stores the token for identifier.
func SetToken(identifier, token string) error {
	if disabled() {
		return errors.New("keychain disabled by WPAINT_KEYRING_DISABLED")
	}
	if err := zkr.Set(serviceName, identifier, token); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// DeleteToken removes the token for identifier. A missing entry is not an
// error.
func DeleteToken(identifier string) error {
	if disabled() {
		return nil
	}
	if err := zkr.Delete(serviceName, identifier); err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

// Available returns true if the OS keychain is functional.
// Returns false if WPAINT_KEYRING_DISABLED=1 is set (headless/CI/Docker).
// Otherwise checks the keychain with a test write/read/delete cycle.
func Available() bool {
	if disabled() {
		return false
	}
	testService := "wpaint-keyring-check"
	testAccount := "availability"
	if err := zkr.Set(testService, testAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(testService, testAccount)
	return true
}

func disabled() bool {
	return os.Getenv("WPAINT_KEYRING_DISABLED") == "1"
}
