// Package users enumerates the accounts in the data volume's home-directory
// container and enforces the configured cardinality.
package users

import (
	"errors"
	"fmt"
	"os"
	"sort"
)

// ErrUserCount is returned when the container holds the wrong number of
// non-sentinel entries.
var ErrUserCount = errors.New("unexpected number of user accounts")

// Enumerator lists user home directories, skipping sentinel entries.
type Enumerator struct {
	Container     string   // absolute path of the users container
	Sentinels     []string // entry names that are never user accounts
	RequiredCount int      // exact number of users that must remain
}

// Users returns the sorted non-sentinel entries, erroring unless exactly
// RequiredCount remain. No disambiguation is attempted.
func (e *Enumerator) Users() ([]string, error) {
	entries, err := os.ReadDir(e.Container)
	if err != nil {
		return nil, fmt.Errorf("listing users container %s: %w", e.Container, err)
	}

	skip := make(map[string]bool, len(e.Sentinels))
	for _, s := range e.Sentinels {
		skip[s] = true
	}

	var names []string
	for _, entry := range entries {
		if skip[entry.Name()] {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	if len(names) != e.RequiredCount {
		return nil, fmt.Errorf("%w: found %d in %s (want %d): %v",
			ErrUserCount, len(names), e.Container, e.RequiredCount, names)
	}

	return names, nil
}

// OperatingUser returns the single enumerated account. It requires
// RequiredCount to be 1.
func (e *Enumerator) OperatingUser() (string, error) {
	if e.RequiredCount != 1 {
		return "", fmt.Errorf("operating user undefined with required_count %d", e.RequiredCount)
	}
	names, err := e.Users()
	if err != nil {
		return "", err
	}
	return names[0], nil
}
