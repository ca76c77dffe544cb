package broker

import (
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	assert := tdd.New(t)
	b := backoff{initial: time.Second, max: 30 * time.Second}

	assert.Equal(time.Second, b.delay(0))
	assert.Equal(2*time.Second, b.delay(1))
	assert.Equal(4*time.Second, b.delay(2))
	assert.Equal(30*time.Second, b.delay(10))
}
