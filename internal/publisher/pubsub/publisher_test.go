package pubsub

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

func TestPublishMarshalsPayload(t *testing.T) {
	t.Parallel()

	var sent *pubsub.Message
	p := &Publisher{publish: func(_ context.Context, msg *pubsub.Message) (string, error) {
		sent = msg
		return "server-1", nil
	}}

	id, err := p.Publish(context.Background(), "job.completed", map[string]string{"jobId": "job-1"})
	require.NoError(t, err)
	require.Equal(t, "server-1", id)
	require.JSONEq(t, `{"jobId":"job-1"}`, string(sent.Data))
	require.Equal(t, "job.completed", sent.Attributes["event"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "not configured")

	p := &Publisher{publish: func(context.Context, *pubsub.Message) (string, error) {
		return "", errors.New("deadline exceeded")
	}}
	_, err = p.Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "publish message")
}
