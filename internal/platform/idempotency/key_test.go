package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Format(t *testing.T) {
	assert.Equal(t, "CANCEL_ORDER:order-123", Key("CANCEL_ORDER", "order-123"))
}

func TestKey_DistinctOperationsDoNotCollide(t *testing.T) {
	a := Key("CANCEL_ORDER", "order-123")
	b := Key("NOTIFY", "order-123")
	assert.NotEqual(t, a, b)
}
