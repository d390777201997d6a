package app

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultSessionTitle = "New Session"
	genericSessionTitle = "General Chat"
	maxTitleWords       = 4
	maxTitleLength      = 30
	maxSlugLength       = 50
)

// Applied in order, each to the output of the previous one
var fillerRxs = func() []*regexp.Regexp {
	phrases := []string{"hey", "hi", "hello", "alright", "mate", "i want", "i need", "can you", "help me", "help with", "your help with"}
	rxs := make([]*regexp.Regexp, len(phrases))
	for i, phrase := range phrases {
		rxs[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
	}
	return rxs
}()

var slugStripRx = regexp.MustCompile(`[^a-z0-9\s]`)
var whitespaceRx = regexp.MustCompile(`\s+`)

// SessionTitle derives a short title from the first message of a session
func SessionTitle(firstMessage string) string {
	if firstMessage == "" {
		return defaultSessionTitle
	}

	cleaned := strings.ToLower(firstMessage)
	for _, rx := range fillerRxs {
		cleaned = rx.ReplaceAllString(cleaned, "")
	}

	words := make([]string, 0, maxTitleWords)
	for _, word := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(word) <= 2 {
			continue
		}
		words = append(words, capitalize(word))
		if len(words) == maxTitleWords {
			break
		}
	}

	if len(words) == 0 {
		return genericSessionTitle
	}

	title := strings.Join(words, " ")
	if runes := []rune(title); len(runes) > maxTitleLength {
		return string(runes[:maxTitleLength]) + "..."
	}
	return title
}

func capitalize(word string) string {
	first, size := utf8.DecodeRuneInString(word)
	return string(unicode.ToUpper(first)) + word[size:]
}

// URLSlug turns a message into a lower-case, dash-separated url fragment
func URLSlug(message string) string {
	slug := slugStripRx.ReplaceAllString(strings.ToLower(message), "")
	slug = whitespaceRx.ReplaceAllString(slug, "-")
	if len(slug) > maxSlugLength {
		// Only ascii remains at this point
		slug = slug[:maxSlugLength]
	}
	return strings.TrimRight(slug, "-")
}

func sessionURL(sessionID string, firstMessage string) string {
	slug := URLSlug(firstMessage)
	if slug == "" {
		return fmt.Sprintf("/chat/%s", sessionID)
	}
	return fmt.Sprintf("/chat/%s?title=%s", sessionID, url.QueryEscape(slug))
}
