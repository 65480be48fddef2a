package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation for path and query parameters. Lengths match the
// column widths of the registry schema.

var (
	contractIDPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)
	versionPattern     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]{0,63}$`)
	publisherIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// ValidateContractID checks a contract id, e.g. a Soroban C... strkey or a
// registry slug.
func ValidateContractID(id string) error {
	if id == "" {
		return fmt.Errorf("contract id cannot be empty")
	}
	if !contractIDPattern.MatchString(id) {
		return fmt.Errorf("invalid contract id format (alphanumeric, dot, colon, dash, underscore, max 128 chars)")
	}
	return nil
}

// ValidateVersion checks a version label such as 1.2.0 or 2.0.0-rc.1.
func ValidateVersion(v string) error {
	if v == "" {
		return fmt.Errorf("version cannot be empty")
	}
	if strings.Contains(v, "..") || !versionPattern.MatchString(v) {
		return fmt.Errorf("invalid version format")
	}
	return nil
}

func ValidatePublisherID(p string) error {
	if p == "" {
		return fmt.Errorf("publisher id cannot be empty")
	}
	if !publisherIDPattern.MatchString(p) {
		return fmt.Errorf("invalid publisher id format (alphanumeric, dash, underscore only, max 128 chars)")
	}
	return nil
}

// ValidateJobID accepts the UUIDs the orchestrator issues.
func ValidateJobID(id string) error {
	if id == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid job id format")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidatePage clamps a 1-based page number.
func ValidatePage(page int) int {
	if page <= 0 {
		return 1
	}
	return page
}
