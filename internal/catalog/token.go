package catalog

import (
	"fmt"
	"strconv"
)

// MaxPage is the highest page TMDB serves for any list endpoint
const MaxPage = 500

// PageToken is the continuation returned with every page. It is either
// NoMore (the sequence is exhausted) or a Token for the next page.
type PageToken interface {
	isPageToken()
}

// NoMore marks the end of a sequence
type NoMore struct{}

// Token is an opaque continuation for the next page
type Token string

func (NoMore) isPageToken() {}
func (Token) isPageToken()  {}

// pageToken encodes a page number as a token
func pageToken(page int) Token {
	return Token(strconv.Itoa(page))
}

// page decodes the token. The empty token is the start of the sequence.
func (t Token) page() (int, error) {
	if t == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(string(t))
	if err != nil || n < 1 || n > MaxPage {
		return 0, fmt.Errorf("invalid page token %q", string(t))
	}
	return n, nil
}

// nextToken returns the token following page, given the upstream page count
func nextToken(page, totalPages int) PageToken {
	if page >= totalPages || page >= MaxPage {
		return NoMore{}
	}
	return pageToken(page + 1)
}
