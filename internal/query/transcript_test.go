package query

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/backend"
)

func TestTranscriptBlankInput(t *testing.T) {
	api := &fakeAnswerer{answer: "ok"}
	tr := NewTranscript(NewRouter(api, staticTokens("tok"), Options{}))

	_, err := tr.Send(context.Background(), "none", "  ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, tr.Len())
	assert.Zero(t, api.calls.Load())
}

func TestTranscriptUnauthenticated(t *testing.T) {
	api := &fakeAnswerer{answer: "ok"}
	tr := NewTranscript(NewRouter(api, staticTokens(""), Options{}))

	_, err := tr.Send(context.Background(), "none", "hello")
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)
	assert.Zero(t, tr.Len())
	assert.Zero(t, api.calls.Load())
}

func TestTranscriptReplies(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
		want   string
	}{
		{"answer", " 42 ", nil, "42"},
		{"empty answer", "", nil, NoResponseText},
		{"transport failure", "", &backend.TransportError{Op: "generate answer", Err: errors.New("connection refused")}, ErrorText},
		{"protocol failure", "", &backend.ProtocolError{Op: "generate answer", Reason: "invalid response format"}, ErrorText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAnswerer{answer: tt.answer, err: tt.err}
			tr := NewTranscript(NewRouter(api, staticTokens("tok"), Options{}))

			reply, err := tr.Send(context.Background(), "doc1", "question")
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Content)

			msgs := tr.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, types.ChatMessage{Content: "question", Sender: types.SenderUser, Timestamp: msgs[0].Timestamp}, msgs[0])
			assert.Equal(t, types.SenderAI, msgs[1].Sender)
			assert.Equal(t, tt.want, msgs[1].Content)
		})
	}
}

func TestTranscriptPairsStayTogether(t *testing.T) {
	api := &fakeAnswerer{answer: "reply"}
	tr := NewTranscript(NewRouter(api, staticTokens("tok"), Options{}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Send(context.Background(), "none", "q")
		}()
	}
	wg.Wait()

	msgs := tr.Messages()
	require.Len(t, msgs, 16)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, types.SenderUser, msgs[i].Sender)
		assert.Equal(t, types.SenderAI, msgs[i+1].Sender)
	}
}
