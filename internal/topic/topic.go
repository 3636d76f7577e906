// Package topic handles hierarchical topic names and subscription filters.
//
// Filters use MQTT syntax: levels separated by "/", "+" matches exactly one
// level and a trailing "#" matches the parent level and every level below it.
// The Solace-style trailing ">" is accepted as an alias for "#".
package topic

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Separator           = "/"
	SingleLevelWildcard = "+"
	MultiLevelWildcard  = "#"

	multiLevelAlias = ">"
	maxLength       = 65535
)

var (
	ErrEmpty           = errors.New("topic is empty")
	ErrTooLong         = errors.New("topic exceeds 65535 bytes")
	ErrInvalidWildcard = errors.New("invalid wildcard usage")
	ErrWildcardInName  = errors.New("topic name must not contain wildcards")
)

// ToFilter converts a configured subscription pattern into an MQTT filter and
// validates it.
func ToFilter(pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	levels := strings.Split(pattern, Separator)
	if last := len(levels) - 1; levels[last] == multiLevelAlias {
		levels[last] = MultiLevelWildcard
	}
	filter := strings.Join(levels, Separator)
	if err := ValidateFilter(filter); err != nil {
		return "", err
	}
	return filter, nil
}

// ValidateFilter checks wildcard placement in a subscription filter.
func ValidateFilter(filter string) error {
	if err := checkCommon(filter); err != nil {
		return err
	}
	levels := strings.Split(filter, Separator)
	for i, level := range levels {
		switch {
		case level == MultiLevelWildcard:
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level, topic: %s", ErrInvalidWildcard, filter)
			}
		case level == SingleLevelWildcard:
		case strings.ContainsAny(level, MultiLevelWildcard+SingleLevelWildcard):
			return fmt.Errorf("%w: wildcard must occupy a whole level, topic: %s", ErrInvalidWildcard, filter)
		}
	}
	return nil
}

// ValidateName checks a topic name used for publishing.
func ValidateName(name string) error {
	if err := checkCommon(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, MultiLevelWildcard+SingleLevelWildcard) {
		return fmt.Errorf("%w: %s", ErrWildcardInName, name)
	}
	return nil
}

func checkCommon(s string) error {
	if s == "" {
		return ErrEmpty
	}
	if len(s) > maxLength {
		return ErrTooLong
	}
	if strings.ContainsRune(s, 0) {
		return fmt.Errorf("topic contains a null character: %q", s)
	}
	return nil
}

// Match reports whether a published topic name is selected by filter.
// Names starting with "$" are never matched by a leading wildcard.
func Match(filter, name string) bool {
	if filter == "" || name == "" {
		return false
	}
	filterLevels := strings.Split(filter, Separator)
	nameLevels := strings.Split(name, Separator)

	if strings.HasPrefix(name, "$") && (filterLevels[0] == SingleLevelWildcard || filterLevels[0] == MultiLevelWildcard) {
		return false
	}

	for i, level := range filterLevels {
		if level == MultiLevelWildcard {
			return true
		}
		if i >= len(nameLevels) {
			return false
		}
		if level != SingleLevelWildcard && level != nameLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(nameLevels)
}

// Base returns the last level of a topic name.
func Base(name string) string {
	if i := strings.LastIndex(name, Separator); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Join builds a topic name from levels, dropping empty ones at the edges.
func Join(levels ...string) string {
	parts := make([]string, 0, len(levels))
	for _, level := range levels {
		level = strings.Trim(level, Separator)
		if level != "" {
			parts = append(parts, level)
		}
	}
	return strings.Join(parts, Separator)
}
