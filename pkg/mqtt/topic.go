package mqtt

import "strings"

// Matches reports whether topic matches the subscription filter, honoring
// the single level (+) and multi level (#) wildcards.
func Matches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// Segment returns the i-th level of topic, or "" when it has fewer levels.
func Segment(topic string, i int) string {
	parts := strings.Split(topic, "/")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}
