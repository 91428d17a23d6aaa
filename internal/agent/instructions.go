package agent

import (
	"strings"
	"time"
	"unicode"

	cache "github.com/patrickmn/go-cache"

	"github.com/kalambet/aide/internal/storage"
)

// triggerWords mark a user message as a standing instruction.
var triggerWords = map[string]bool{
	"ongoing":  true,
	"always":   true,
	"whenever": true,
}

// IsStandingInstruction reports whether text contains a trigger word,
// matched case-insensitively on whole words.
func IsStandingInstruction(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if triggerWords[w] {
			return true
		}
	}
	return false
}

// instructionCache keeps each user's active instructions for ttl. Entries
// are dropped when the orchestrator records a new instruction.
type instructionCache struct {
	store InstructionStore
	items *cache.Cache
}

func newInstructionCache(store InstructionStore, ttl time.Duration) *instructionCache {
	return &instructionCache{
		store: store,
		items: cache.New(ttl, 2*ttl),
	}
}

func (c *instructionCache) active(userID string) ([]storage.Instruction, error) {
	if v, ok := c.items.Get(userID); ok {
		return v.([]storage.Instruction), nil
	}
	list, err := c.store.ActiveInstructions(userID)
	if err != nil {
		return nil, err
	}
	c.items.SetDefault(userID, list)
	return list, nil
}

func (c *instructionCache) invalidate(userID string) {
	c.items.Delete(userID)
}
