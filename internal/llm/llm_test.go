package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticStreamsContentThenReturnsResult(t *testing.T) {
	s := Static{Result: Result{Content: "hi", OutputTokens: 2}}

	var sb strings.Builder
	var sawDone bool
	res, err := s.Complete(context.Background(), Request{}, func(c Chunk) {
		if c.Done {
			sawDone = true
			return
		}
		sb.WriteString(c.Text)
	})

	require.NoError(t, err)
	require.True(t, sawDone)
	require.Equal(t, "hi", sb.String())
	require.Equal(t, "hi", res.Content)
	require.Equal(t, 2, res.OutputTokens)
}

func TestStaticPropagatesError(t *testing.T) {
	s := Static{Err: context.Canceled}

	var sawErr error
	_, err := s.Complete(context.Background(), Request{}, func(c Chunk) {
		if c.Error != nil {
			sawErr = c.Error
		}
	})

	require.Error(t, err)
	require.Equal(t, context.Canceled, sawErr)
}
