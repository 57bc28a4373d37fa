package banter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "hél", truncate("héllo", 3))
}

func TestSplitMessageShortContentUntouched(t *testing.T) {
	chunks := splitMessage("short message", discordMaxMessageLength)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short message", chunks[0])
}

func TestSplitMessageEmpty(t *testing.T) {
	assert.Nil(t, splitMessage("", discordMaxMessageLength))
	assert.Nil(t, splitMessage("   ", discordMaxMessageLength))
}

func TestSplitMessagePrefersSentenceBoundaries(t *testing.T) {
	first := strings.Repeat("a", 60) + "."
	second := strings.Repeat("b", 60) + "!"
	third := strings.Repeat("c", 60) + "?"
	content := first + " " + second + " " + third

	chunks := splitMessage(content, 80)
	require.Len(t, chunks, 3)
	assert.Equal(t, first, chunks[0])
	assert.Equal(t, second, chunks[1])
	assert.Equal(t, third, chunks[2])
}

func TestSplitMessageFallsBackToWords(t *testing.T) {
	// a single long "sentence" with no punctuation
	words := make([]string, 50)
	for i := range words {
		words[i] = "word"
	}
	content := strings.Join(words, " ")

	chunks := splitMessage(content, 25)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 25)
		// never splits mid-word
		for _, w := range strings.Fields(chunk) {
			assert.Equal(t, "word", w)
		}
	}
}

func TestSplitMessageNeverExceedsLimit(t *testing.T) {
	contents := []string{
		strings.Repeat("All work and no play makes Jack a dull boy. ", 200),
		strings.Repeat("x", 5000),
		strings.Repeat("somewhat-long-word ", 500),
	}
	for _, content := range contents {
		chunks := splitMessage(content, discordMaxMessageLength)
		require.NotEmpty(t, chunks)
		for _, chunk := range chunks {
			assert.LessOrEqual(
				t,
				utf8.RuneCountInString(chunk),
				discordMaxMessageLength,
			)
			assert.NotEmpty(t, strings.TrimSpace(chunk))
		}
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("One. Two! Three? Four")
	assert.Equal(t, []string{"One.", "Two!", "Three?", "Four"}, sentences)
}

func TestSplitSentencesKeepsPunctuationRuns(t *testing.T) {
	sentences := splitSentences("Really?! Yes... maybe.")
	assert.Equal(t, []string{"Really?!", "Yes...", "maybe."}, sentences)
}
