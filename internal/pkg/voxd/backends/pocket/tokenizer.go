package pocket

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// tokenizer performs greedy longest-match encoding against a SentencePiece
// style vocab.json. Unmatched runes fall back to single-character lookup,
// then to the unknown id.
type tokenizer struct {
	tokenToID    map[string]int64
	sortedTokens []string
	bosID        int64
	eosID        int64
	unkID        int64
}

func newTokenizer(vocabPath string) (*tokenizer, error) {
	data, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab file: %w", err)
	}

	var vocab map[string]int64
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse vocab JSON: %w", err)
	}

	t := &tokenizer{
		tokenToID: vocab,
		bosID:     1,
		eosID:     2,
		unkID:     3,
	}

	t.sortedTokens = make([]string, 0, len(vocab))
	for token := range vocab {
		t.sortedTokens = append(t.sortedTokens, token)
	}
	sort.Slice(t.sortedTokens, func(i, j int) bool {
		return len(t.sortedTokens[i]) > len(t.sortedTokens[j])
	})

	return t, nil
}

func (t *tokenizer) encode(text string) []int64 {
	tokens := make([]int64, 0, len(text)+2)
	tokens = append(tokens, t.bosID)

	remaining := text
	for len(remaining) > 0 {
		matched := false
		for _, token := range t.sortedTokens {
			if len(token) <= len(remaining) && remaining[:len(token)] == token {
				tokens = append(tokens, t.tokenToID[token])
				remaining = remaining[len(token):]
				matched = true
				break
			}
		}
		if !matched {
			char := string([]rune(remaining)[0])
			if id, ok := t.tokenToID[char]; ok {
				tokens = append(tokens, id)
			} else {
				tokens = append(tokens, t.unkID)
			}
			remaining = remaining[len(char):]
		}
	}

	tokens = append(tokens, t.eosID)
	return tokens
}
