// Package validation checks operator inputs and enforces the upload
// filename policy.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrInvalidPath     = errors.New("invalid file path")
	ErrPathNotExists   = errors.New("path does not exist")
	ErrInvalidAddr     = errors.New("invalid listen address")
	ErrEmptyString     = errors.New("value must not be empty")
	ErrOutOfRange      = errors.New("value out of range")
	ErrForbiddenSuffix = errors.New("forbidden file type")
)

// ValidateUploadName rejects declared upload names ending in an executable
// suffix. The match is a case-sensitive comparison of the final bytes; it is
// a defense-in-depth hint, not a security boundary.
func ValidateUploadName(name string) error {
	if name == "" {
		return ErrEmptyString
	}
	if strings.HasSuffix(name, ".sh") || strings.HasSuffix(name, ".exe") {
		return fmt.Errorf("%w: %s", ErrForbiddenSuffix, name)
	}
	return nil
}

// ValidateFilePath checks a local path, optionally requiring it to exist.
func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateAddr checks that addr resolves as a TCP address.
func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

// ValidateRangeInt checks min <= v <= max.
func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}
