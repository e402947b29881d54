package tasks

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyDeterministic(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)

	first := IdempotencyKey(id, KindReminder2h, at)
	second := IdempotencyKey(id, KindReminder2h, at)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestIdempotencyKeyVariesByInput(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)
	base := IdempotencyKey(id, KindReminder2h, at)

	assert.NotEqual(t, base, IdempotencyKey(uuid.New(), KindReminder2h, at), "different appointment")
	assert.NotEqual(t, base, IdempotencyKey(id, KindReminder24h, at), "different kind")
	assert.NotEqual(t, base, IdempotencyKey(id, KindReminder2h, at.Add(time.Second)), "different version")
}

func TestIdempotencyKeyNormalisesTimezone(t *testing.T) {
	id := uuid.New()
	utc := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("CEST", 2*3600))

	assert.Equal(t, IdempotencyKey(id, KindFeedbackRequest, utc), IdempotencyKey(id, KindFeedbackRequest, offset))
}
