// Package tokenizer splits book text into normalised index terms.
//
// A term is a maximal run of Unicode letters (combining marks included);
// digits, underscores, punctuation and whitespace all separate terms. Terms
// are lower-cased with the casing rules of the book's language, composed to
// NFC and filtered against that language's stop-word list. Each token keeps the byte offset
// and byte length of its span in the original text.
package tokenizer

import (
	"bufio"
	"embed"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultLanguage is used for unknown language codes and for languages
// without a stop-word list.
const DefaultLanguage = "english"

// languageNames maps ISO 639-1 codes to canonical language names.
var languageNames = map[string]string{
	"en": "english",
	"fr": "french",
	"es": "spanish",
	"de": "german",
	"it": "italian",
	"pt": "portuguese",
	"nl": "dutch",
	"fi": "finnish",
	"sv": "swedish",
}

var languageTags = map[string]language.Tag{
	"english":    language.English,
	"french":     language.French,
	"spanish":    language.Spanish,
	"german":     language.German,
	"italian":    language.Italian,
	"portuguese": language.Portuguese,
	"dutch":      language.Dutch,
	"finnish":    language.Finnish,
	"swedish":    language.Swedish,
}

//go:embed stopwords/*.txt
var stopWordFiles embed.FS

// Token is one surviving term. Offset and Length address the term's span in
// the text passed to Tokenize.
type Token struct {
	Term   string
	Offset int
	Length int
}

// LanguageName resolves a language code list such as "en" or "fr, en" to a
// canonical name using its first code.
func LanguageName(codes string) string {
	primary, _, _ := strings.Cut(codes, ",")
	primary = strings.ToLower(strings.TrimSpace(primary))
	if name, ok := languageNames[primary]; ok {
		return name
	}
	return DefaultLanguage
}

// Tokenize returns the terms of text in order of appearance, stop words
// removed. lang is a language code list as stored on the book.
func Tokenize(text, lang string) []Token {
	name := LanguageName(lang)
	stops := StopWords(name)
	caser := cases.Lower(languageTags[name])

	tokens := make([]Token, 0, len(text)/8)
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		term := norm.NFC.String(caser.String(text[start:end]))
		if _, stop := stops[term]; !stop {
			tokens = append(tokens, Token{Term: term, Offset: start, Length: end - start})
		}
		start = -1
	}
	for i, r := range text {
		if isWordRune(r, start >= 0) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

// Normalize applies the term rule to a single query word. It returns "" if
// word contains no letters. Stop words are not removed.
func Normalize(word, lang string) string {
	caser := cases.Lower(languageTags[LanguageName(lang)])
	var sb strings.Builder
	inWord := false
	for _, r := range word {
		if isWordRune(r, inWord) {
			sb.WriteRune(r)
			inWord = true
			continue
		}
		if inWord {
			break
		}
	}
	return norm.NFC.String(caser.String(sb.String()))
}

// WordEnd returns the byte offset just past the term span that starts at
// offset in text, or offset itself when no term starts there.
func WordEnd(text string, offset int) int {
	end := offset
	for end >= 0 && end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(r, end > offset) {
			break
		}
		end += size
	}
	return end
}

func isWordRune(r rune, inWord bool) bool {
	if r == utf8.RuneError {
		return false
	}
	if unicode.IsLetter(r) {
		return true
	}
	return inWord && unicode.Is(unicode.M, r)
}

var (
	stopMu    sync.Mutex
	stopCache = map[string]map[string]struct{}{}
)

// StopWords returns the stop-word set of the named language, falling back
// to the default language's list with a warning when none exists.
func StopWords(name string) map[string]struct{} {
	stopMu.Lock()
	defer stopMu.Unlock()
	if set, ok := stopCache[name]; ok {
		return set
	}
	set, err := loadStopWords(name)
	if err != nil {
		slog.Warn("no stop-word list for language, using default",
			"component", "tokenizer", "language", name, "default", DefaultLanguage)
		set, err = loadStopWords(DefaultLanguage)
		if err != nil {
			set = map[string]struct{}{}
		}
	}
	stopCache[name] = set
	return set
}

func loadStopWords(name string) (map[string]struct{}, error) {
	f, err := stopWordFiles.Open("stopwords/" + name + ".txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	set := make(map[string]struct{}, 256)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if w := strings.TrimSpace(sc.Text()); w != "" {
			set[norm.NFC.String(w)] = struct{}{}
		}
	}
	return set, sc.Err()
}
