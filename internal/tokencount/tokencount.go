// Package tokencount reconstructs token counts when a provider response
// omits usage data. Counts are approximations from the cl100k_base
// vocabulary and are used for cost accounting only.
package tokencount

import (
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

var codecOnce = sync.OnceValues(func() (tokenizer.Codec, error) {
	return tokenizer.Get(tokenizer.Cl100kBase)
})

// Text returns the token count of a string, or 0 when the tokenizer is
// unavailable or the text is empty.
func Text(s string) int64 {
	if s == "" {
		return 0
	}
	codec, err := codecOnce()
	if err != nil {
		return 0
	}
	n, err := codec.Count(s)
	if err != nil {
		return 0
	}
	return int64(n)
}

// Messages estimates prompt tokens from a chat request's messages array.
// Only string content is counted; structured content parts contribute their
// text fields.
func Messages(requestJSON []byte) int64 {
	var total int64
	gjson.GetBytes(requestJSON, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			total += Text(content.String())
		case content.IsArray():
			content.ForEach(func(_, part gjson.Result) bool {
				if text := part.Get("text"); text.Type == gjson.String {
					total += Text(text.String())
				}
				return true
			})
		}
		total += Text(msg.Get("role").String())
		return true
	})
	return total
}
