package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSPublisherRoutesByTopic(t *testing.T) {
	client := &fakeSQS{}
	p := NewSQSPublisher(client, map[string]string{
		TopicSalesFunnel: "https://sqs.local/telemetry",
	}, zap.NewNop())

	at := time.Date(2021, 4, 5, 0, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), Event{
		Topic:      TopicSalesFunnel,
		Key:        "42",
		OccurredAt: at,
		Payload:    SalesFunnel{Event: FunnelUpgradeExecuted, UserID: 42, Strategy: "short"},
	})
	require.NoError(t, err)

	err = p.Publish(context.Background(), Event{Topic: TopicSubscriptionShortened, Key: "1"})
	require.NoError(t, err)

	require.Len(t, client.inputs, 1, "topics without a queue are dropped")
	in := client.inputs[0]
	assert.Equal(t, "https://sqs.local/telemetry", *in.QueueUrl)
	assert.Equal(t, TopicSalesFunnel, *in.MessageAttributes["Topic"].StringValue)

	var decoded struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &decoded))
	assert.Equal(t, TopicSalesFunnel, decoded.Topic)
	assert.Contains(t, string(decoded.Payload), `"strategy":"short"`)
}

func TestSQSPublisherWrapsSendError(t *testing.T) {
	client := &fakeSQS{err: errors.New("throttled")}
	p := NewSQSPublisher(client, map[string]string{TopicSalesFunnel: "q"}, zap.NewNop())

	err := p.Publish(context.Background(), Event{Topic: TopicSalesFunnel})
	assert.ErrorContains(t, err, "throttled")
}

func TestMultiKeepsPublishingAfterError(t *testing.T) {
	rec := &Recorder{}
	failing := NewSQSPublisher(&fakeSQS{err: errors.New("down")}, map[string]string{"t": "q"}, zap.NewNop())

	err := Multi{failing, rec, NewLogPublisher(zap.NewNop())}.Publish(context.Background(), Event{Topic: "t"})
	assert.Error(t, err)
	assert.Len(t, rec.Events("t"), 1)
	assert.Empty(t, rec.Events("other"))
}
