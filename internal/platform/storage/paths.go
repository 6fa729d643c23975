package storage

import (
	"fmt"
	"strings"
	"time"
)

// PicklistObjectPath returns the object key for a picklist export. An empty status means all statuses.
func PicklistObjectPath(status string, generatedAt time.Time, exportID string) (string, error) {
	scope := strings.TrimSpace(status)
	if scope == "" {
		scope = "all"
	}
	scope, err := validateSegment("status", scope)
	if err != nil {
		return "", err
	}
	id, err := validateSegment("exportID", exportID)
	if err != nil {
		return "", err
	}
	day := generatedAt.UTC().Format("2006-01-02")
	return fmt.Sprintf("exports/picklists/%s/%s/%s.json", day, scope, id), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
