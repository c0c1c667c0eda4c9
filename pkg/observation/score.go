package observation

import (
	"strings"

	"golang.org/x/net/html"
)

// scoreScale is the token difference that yields a score of 0.5.
const scoreScale = 20.0

// ChangeScore estimates how much the page changed between two markups.
//
// Both documents are reduced to a multiset of tokens (tags with their class
// and style attributes, plus words of text) and the score is d/(d+scale)
// where d is the size of the symmetric difference. It is 0 for identical
// markup, grows with the size of the edit and stays below 1.
func ChangeScore(before, after string) float64 {
	if before == after {
		return 0
	}
	counts := make(map[string]int)
	for tok, n := range tokens(before) {
		counts[tok] += n
	}
	for tok, n := range tokens(after) {
		counts[tok] -= n
	}

	d := 0
	for _, n := range counts {
		if n < 0 {
			n = -n
		}
		d += n
	}
	if d == 0 {
		return 0
	}
	return float64(d) / (float64(d) + scoreScale)
}

func tokens(markup string) map[string]int {
	out := make(map[string]int)
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; either way the tokens so far stand.
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			key := "<" + t.Data
			for _, a := range t.Attr {
				switch a.Key {
				case "class", "style", "src", "href", "id":
					key += " " + a.Key + "=" + a.Val
				}
			}
			out[key]++
		case html.TextToken:
			for _, w := range strings.Fields(string(z.Text())) {
				out[w]++
			}
		}
	}
}
