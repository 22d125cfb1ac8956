// Package stream folds streamed chat completion deltas into a single
// summary suitable for auditing, and reads and writes the server-sent
// event framing they arrive in.
package stream

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// Chunk is one streamed chat completion delta.
type Chunk struct {
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice carries the delta for one choice index.
type Choice struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`
}

// Delta is the incremental part of a choice.
type Delta struct {
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a fragment of a tool call keyed by Index.
type ToolCallDelta struct {
	Index    int            `json:"index"`
	ID       string         `json:"id,omitempty"`
	Function *FunctionDelta `json:"function,omitempty"`
}

// FunctionDelta is a fragment of a tool call's function.
type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	TotalTokens      int `json:"total_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ToolCall is an assembled tool call.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// Summary is the folded result of a stream. It is stored as the audit
// response of a streamed completion.
type Summary struct {
	Streamed     bool       `json:"streamed"`
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"toolCalls"`
	TokenUsage   *int       `json:"tokenUsage"`
	InputTokens  *int       `json:"inputTokens"`
	OutputTokens *int       `json:"outputTokens"`
}

// Aggregator folds chunks in arrival order. The zero value is ready to use.
// It is not safe for concurrent use.
type Aggregator struct {
	content strings.Builder
	calls   map[int]*ToolCall
	usage   *Usage
}

// Apply folds one chunk. Content deltas are concatenated; tool call
// fragments overwrite id and name when present and always append their
// arguments; the last chunk carrying usage wins.
func (a *Aggregator) Apply(c Chunk) {
	if c.Usage != nil {
		u := *c.Usage
		a.usage = &u
	}
	for _, choice := range c.Choices {
		a.content.WriteString(choice.Delta.Content)
		for _, tc := range choice.Delta.ToolCalls {
			if a.calls == nil {
				a.calls = make(map[int]*ToolCall)
			}
			call, ok := a.calls[tc.Index]
			if !ok {
				call = &ToolCall{}
				a.calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function != nil {
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}
		}
	}
}

// ApplyData folds the JSON payload of one event. Empty payloads and the
// terminating [DONE] marker are ignored; it reports whether the payload
// was a chunk.
func (a *Aggregator) ApplyData(data string) bool {
	data = strings.TrimSpace(data)
	if data == "" || data == DoneData {
		return false
	}
	var c Chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return false
	}
	a.Apply(c)
	return true
}

// Usage returns the last reported usage, or nil.
func (a *Aggregator) Usage() *Usage {
	if a.usage == nil {
		return nil
	}
	u := *a.usage
	return &u
}

// Summary returns the fold so far. Tool calls are ordered by index.
func (a *Aggregator) Summary() Summary {
	s := Summary{
		Streamed:  true,
		Content:   a.content.String(),
		ToolCalls: make([]ToolCall, 0, len(a.calls)),
	}
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		s.ToolCalls = append(s.ToolCalls, *a.calls[i])
	}
	if a.usage != nil {
		total, in, out := a.usage.TotalTokens, a.usage.PromptTokens, a.usage.CompletionTokens
		s.TokenUsage, s.InputTokens, s.OutputTokens = &total, &in, &out
	}
	return s
}

// Fold consumes chunks until the channel closes or ctx is done and returns
// the summary of everything received.
func Fold(ctx context.Context, chunks <-chan Chunk) Summary {
	var a Aggregator
	for {
		select {
		case <-ctx.Done():
			return a.Summary()
		case c, ok := <-chunks:
			if !ok {
				return a.Summary()
			}
			a.Apply(c)
		}
	}
}
