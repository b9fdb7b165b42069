package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashKey hashes an API key using bcrypt.
func HashKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckKey compares a presented key with its bcrypt hash.
func CheckKey(plain, hashed string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
