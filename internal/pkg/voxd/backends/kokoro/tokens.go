package kokoro

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// tokenizer maps characters to model token ids through a tokens.txt file
// ("<token> <id>" per line). Characters absent from the table are dropped.
type tokenizer struct {
	tokenToID map[string]int64
	padID     int64
}

func newTokenizer(tokensPath string) (*tokenizer, error) {
	f, err := os.Open(tokensPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tokens file: %w", err)
	}
	defer f.Close()

	t := &tokenizer{
		tokenToID: make(map[string]int64),
		padID:     0,
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(parts[1], "%d", &id); err != nil {
			continue
		}
		t.tokenToID[parts[0]] = id
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens file: %w", err)
	}

	return t, nil
}

func (t *tokenizer) encode(text string) []int64 {
	tokens := make([]int64, 0, len(text)+2)
	tokens = append(tokens, t.padID)
	for _, r := range text {
		if id, ok := t.tokenToID[string(r)]; ok {
			tokens = append(tokens, id)
		}
	}
	tokens = append(tokens, t.padID)
	return tokens
}
