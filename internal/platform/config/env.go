// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// GetEnv returns the value of key, or fallback if it is unset or empty.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// GetEnvInt returns key parsed as an int, or fallback if unset, empty, or
// not a valid integer.
func GetEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// MustGetEnv returns the value of key and panics if it is unset or empty.
// Used only for configuration that has no sane default (DSNs, secrets).
func MustGetEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		panic(fmt.Sprintf("config: required environment variable %q is not set", key))
	}
	return v
}
