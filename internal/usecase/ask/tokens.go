package ask

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// tiktokenCounter counts tokens with the cl100k_base encoding, matching what
// the embedding and generation models tokenize with.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding.
func NewTokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load token encoding: %w", err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
