package llm

import (
	"context"
	"fmt"
	"strings"
)

// FirstChoice safely returns the first choice from a ChatResponse.
// Returns an error if the response is nil or has no choices.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, fmt.Errorf("nil ChatResponse")
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, fmt.Errorf("empty choices in ChatResponse (model returned no choices)")
	}
	return resp.Choices[0], nil
}

// CollectStream drains a stream channel and concatenates the deltas.
// onDelta, when non-nil, sees every non-empty fragment as it arrives.
// The first chunk carrying an error aborts collection.
func CollectStream(ctx context.Context, ch <-chan StreamChunk, onDelta func(string)) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			if chunk.Err != nil {
				return b.String(), chunk.Err
			}
			if chunk.Delta.Content == "" {
				continue
			}
			b.WriteString(chunk.Delta.Content)
			if onDelta != nil {
				onDelta(chunk.Delta.Content)
			}
		}
	}
}
