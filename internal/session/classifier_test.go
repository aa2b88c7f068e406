package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhraseClassifier(t *testing.T) {
	testCases := []struct {
		content  string
		expected Classification
	}{
		{"<h2>Are you a human being?</h2>", Interruption},
		{"<label>Enter Captcha</label><input name=code>", Interruption},
		{"<p>Type the CAPTCHA below</p><button>Proceed</button>", Interruption},
		{"<p>captcha images are served from /img</p>", Normal},
		{"<button>Proceed</button>", Normal},
		{"<h1>502 Bad Gateway</h1>", ErrorPage},
		{"<h1>Internal Server Error</h1> enter captcha", Interruption},
		{"<table><tr><td>Total of Registration</td></tr></table>", Normal},
		{"", Normal},
	}

	classifier := DefaultClassifier()
	for _, test := range testCases {
		require.Equal(t, test.expected, classifier.Classify(test.content), test.content)
	}
}

func TestEmptyPhraseGroupNeverMatches(t *testing.T) {
	classifier := PhraseClassifier{Interruption: [][]string{{}}}
	require.Equal(t, Normal, classifier.Classify("anything"))
}
