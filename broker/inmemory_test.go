package broker

import (
	"context"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/arborwatch/httpmeta/model"
)

func TestInMemoryPublisher(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()

	pub := NewInMemory(2)
	assert.Equal(Ready, pub.State())

	env := model.Envelope{URL: "https://example.com/", RequestID: "r1"}
	assert.Nil(pub.Publish(ctx, env))
	assert.Nil(pub.Publish(ctx, env))

	kind, ok := model.KindOf(pub.Publish(ctx, env))
	assert.True(ok)
	assert.Equal(model.ErrQueueRejected, kind)

	assert.Len(pub.Envelopes(), 2)

	assert.Nil(pub.Close(ctx))
	assert.Equal(Closed, pub.State())
	_, ok = model.KindOf(pub.Publish(ctx, env))
	assert.True(ok)
}
