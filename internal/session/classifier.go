package session

import "strings"

// Classifier decides whether page content is a normal page, a
// human-verification interruption or an error page.
type Classifier interface {
	Classify(content string) Classification
}

// PhraseClassifier matches lowercase phrases against the lowercased page
// content. A group matches when every phrase in it is present, the page is
// classified by the first kind with a matching group, interruptions first.
type PhraseClassifier struct {
	Interruption [][]string
	Error        [][]string
}

func DefaultClassifier() PhraseClassifier {
	return PhraseClassifier{
		Interruption: [][]string{
			{"are you a human being"},
			{"enter captcha"},
			{"captcha", "proceed"},
		},
		Error: [][]string{
			{"internal server error"},
			{"service unavailable"},
			{"bad gateway"},
		},
	}
}

func (c PhraseClassifier) Classify(content string) Classification {
	content = strings.ToLower(content)
	if anyGroupMatches(content, c.Interruption) {
		return Interruption
	}
	if anyGroupMatches(content, c.Error) {
		return ErrorPage
	}
	return Normal
}

func anyGroupMatches(content string, groups [][]string) bool {
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		matched := true
		for _, phrase := range group {
			if !strings.Contains(content, phrase) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(content string) Classification

func (f ClassifierFunc) Classify(content string) Classification {
	return f(content)
}
