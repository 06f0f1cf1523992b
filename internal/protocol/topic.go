package protocol

import (
	"errors"
	"strings"
)

const (
	sep         = "/"
	singleLevel = "+"
	multiLevel  = "#"
)

const specialChars = sep + singleLevel + multiLevel

var (
	errEmptyTopicLevelName   = errors.New("invalid topic level name: name is empty")
	errInvalidTopicLevelName = errors.New("invalid topic level name: name contains invalid characters")
)

// CheckLevelName checks if a topic level name consists of valid characters.
// Device keys and references become topic levels, so they must pass this.
func CheckLevelName(name string) error {
	switch {
	case name == "":
		return errEmptyTopicLevelName
	case strings.ContainsAny(name, specialChars):
		return errInvalidTopicLevelName
	default:
		return nil
	}
}

// Matches reports whether a channel satisfies a subscription filter under
// MQTT wildcard rules: '+' matches exactly one level, a trailing '#' matches
// zero or more levels.
func Matches(filter, channel string) bool {
	flevels := topicSplit(filter)
	clevels := topicSplit(channel)
	for i, f := range flevels {
		if f == multiLevel {
			return i == len(flevels)-1 // '#' must terminate the filter
		}
		if i >= len(clevels) {
			return false
		}
		if f != singleLevel && f != clevels[i] {
			return false
		}
	}
	return len(clevels) == len(flevels)
}

func topicJoin(topicParts ...string) string { return strings.Join(topicParts, sep) }
func topicSplit(topicStr string) []string   { return strings.Split(topicStr, sep) }
