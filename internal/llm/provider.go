package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatProvider provides chat completion. When stream is true the returned
// ChatStream yields incremental deltas; otherwise a single final message.
type ChatProvider interface {
	Chat(ctx context.Context, messages []Message, stream bool, temperature float32) (ChatStream, error)
}

// Embedder turns a single text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatStream yields streamed deltas, or one final message when non-streaming.
type ChatStream interface {
	Recv() (delta string, done bool, err error)
	Close() error
}

// Collect drains a stream and returns the concatenated text.
func Collect(s ChatStream) (string, error) {
	defer s.Close()
	var out []byte
	for {
		delta, done, err := s.Recv()
		if err != nil {
			return string(out), err
		}
		out = append(out, delta...)
		if done {
			return string(out), nil
		}
	}
}
