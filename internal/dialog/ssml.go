package dialog

import (
	"regexp"
	"strings"
)

// Pause is a short speech pause used around quoted message bodies.
const Pause = `<break time="0.5s"/>`

// Speak wraps segments in speech markup.
func Speak(segments ...string) string {
	return "<speak>" + strings.Join(segments, "") + "</speak>"
}

var ssmlTags = regexp.MustCompile(`<[^>]+>`)

// StripSSML returns the plain display text for a speech-markup string.
func StripSSML(s string) string {
	return strings.Join(strings.Fields(ssmlTags.ReplaceAllString(s, " ")), " ")
}
