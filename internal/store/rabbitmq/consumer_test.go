package rabbitmq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

type fakeDelivery struct {
	acked, nacked, requeued bool
}

func (f *fakeDelivery) Ack(bool) error { f.acked = true; return nil }

func (f *fakeDelivery) Nack(_, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 2, retryCount(amqp.Table{retryCountHeader: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryCountHeader: int64(3)}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryCountHeader: "x"}))
}

func TestSettleFailure_ExhaustedGoesToDLQ(t *testing.T) {
	c := &Consumer{queue: "jobs", opts: ConsumerOptions{MaxRetries: 2}}
	d := &fakeDelivery{}
	c.settleFailure(context.Background(), d, 2, []byte(`{"job_id":"j"}`))
	assert.True(t, d.nacked)
	assert.False(t, d.requeued)
	assert.False(t, d.acked)
}
