// Package extract maps raw user queries to canonical YouTube video ids.
package extract

import "strings"

// videoIDLength is the fixed length of a YouTube video id.
const videoIDLength = 11

// VideoID tries to pull a canonical video id out of a raw query.
// It recognizes bare ids, watch URLs ("v=" parameter) and youtu.be
// short links, in that order. When nothing matches it returns false
// and the caller falls back to free-text search.
func VideoID(query string) (string, bool) {
	q := strings.TrimSpace(query)

	if len(q) == videoIDLength && !strings.ContainsAny(q, " \t\n") {
		return q, true
	}

	if _, after, found := strings.Cut(q, "v="); found {
		id, _, _ := strings.Cut(after, "&")
		if id != "" {
			return id, true
		}
		return "", false
	}

	if _, after, found := strings.Cut(q, "youtu.be/"); found {
		id, _, _ := strings.Cut(after, "?")
		if id != "" {
			return id, true
		}
		return "", false
	}

	return "", false
}
