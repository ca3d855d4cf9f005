// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package contract

import (
	"fmt"
	"os"
	"strconv"
)

const (
	// DefaultSoftLimitBytes is the baseline soft limit for one write request.
	// Qdrant rejects bodies above 32 MiB by default.
	DefaultSoftLimitBytes = 24 << 20 // 24 MiB

	// CollectionNameMaxBytes is the maximum length of a collection name.
	CollectionNameMaxBytes = 255
)

// SoftLimitBytes returns the effective soft limit for write request bodies.
// Controlled via env CODEVEC_SOFT_LIMIT_BYTES; falls back to DefaultSoftLimitBytes.
func SoftLimitBytes() int {
	if v := os.Getenv("CODEVEC_SOFT_LIMIT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultSoftLimitBytes
}

// ValidationResult represents the result of a validation check.
type ValidationResult struct {
	OK      bool
	Message string
}

// ValidateRequestBody checks an encoded write request against the soft limit.
func ValidateRequestBody(body []byte) *ValidationResult {
	if limit := SoftLimitBytes(); len(body) > limit {
		return &ValidationResult{
			OK:      false,
			Message: fmt.Sprintf("request body of %d bytes exceeds soft limit of %d bytes", len(body), limit),
		}
	}
	return &ValidationResult{OK: true}
}

// ValidateCollectionName rejects names the vector stores cannot address.
func ValidateCollectionName(name string) *ValidationResult {
	switch {
	case name == "":
		return &ValidationResult{OK: false, Message: "collection name is empty"}
	case len(name) > CollectionNameMaxBytes:
		return &ValidationResult{OK: false, Message: "collection name is too long"}
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || r == '.' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return &ValidationResult{OK: false, Message: fmt.Sprintf("collection name contains invalid character %q", r)}
		}
	}
	return &ValidationResult{OK: true}
}
