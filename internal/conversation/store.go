package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

// DefaultSafetyMargin leaves room for error in backend token counts.
const DefaultSafetyMargin = 0.95

// ErrContextOverflow means the first and latest exchanges alone exceed the budget.
var ErrContextOverflow = errors.New("context overflow")

// TokenCounter returns the backend's token count for the given turns.
type TokenCounter func(ctx context.Context, turns []types.Turn) (int, error)

// Store holds the conversation as contiguous exchanges. An exchange is a user
// turn, any tool-use round trips, and the final assistant turn. Only whole
// exchanges strictly between the first and the latest are ever removed.
type Store struct {
	exchanges [][]types.Turn
}

func NewStore() *Store {
	return &Store{}
}

// Append adds turn to the open exchange, or starts a new exchange when the latest one is closed.
func (s *Store) Append(turn types.Turn) {
	turn = turn.Clone()
	n := len(s.exchanges)
	if n == 0 || closed(s.exchanges[n-1]) {
		s.exchanges = append(s.exchanges, []types.Turn{turn})
		return
	}
	s.exchanges[n-1] = append(s.exchanges[n-1], turn)
}

// DropOpen removes the latest exchange if it is still open and reports whether it did.
func (s *Store) DropOpen() bool {
	n := len(s.exchanges)
	if n == 0 || closed(s.exchanges[n-1]) {
		return false
	}
	s.exchanges = s.exchanges[:n-1]
	return true
}

// closed reports whether the exchange has a user turn and ends with an
// assistant turn that requests no tool.
func closed(ex []types.Turn) bool {
	if len(ex) < 2 || ex[0].Role != types.RoleUser {
		return false
	}
	last := ex[len(ex)-1]
	return last.Role == types.RoleAssistant && len(last.ToolUses()) == 0
}

// Turns returns the flattened context in order.
func (s *Store) Turns() []types.Turn {
	var turns []types.Turn
	for _, ex := range s.exchanges {
		turns = append(turns, ex...)
	}
	return turns
}

// Exchanges returns the number of exchanges held.
func (s *Store) Exchanges() int {
	return len(s.exchanges)
}

// Exchange returns a copy of the i-th exchange.
func (s *Store) Exchange(i int) []types.Turn {
	out := make([]types.Turn, len(s.exchanges[i]))
	copy(out, s.exchanges[i])
	return out
}

// Trim evicts the oldest evictable exchange until count reports at most
// budget*margin tokens. The counter is re-run after every eviction. It returns
// the final token count and the number of evicted exchanges.
func (s *Store) Trim(ctx context.Context, count TokenCounter, budget int, margin float64) (int, int, error) {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	limit := float64(budget) * margin
	evicted := 0
	for {
		tokens, err := count(ctx, s.Turns())
		if err != nil {
			return 0, evicted, fmt.Errorf("count context tokens: %w", err)
		}
		if float64(tokens) <= limit {
			return tokens, evicted, nil
		}
		if len(s.exchanges) <= 2 {
			return tokens, evicted, fmt.Errorf("%w: %d tokens in first and latest exchange exceed %.0f (budget %d)",
				ErrContextOverflow, tokens, limit, budget)
		}
		s.exchanges = append(s.exchanges[:1], s.exchanges[2:]...)
		evicted++
	}
}
