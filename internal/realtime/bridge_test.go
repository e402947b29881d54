package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/scheduling-engine/internal/events"
)

func TestBridgePublishesAndDeliversToHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := NewHub(nil).WithCheckOrigin(func(*http.Request) bool { return true })
	conn := dialHub(t, hub, "org-1")
	waitForSubscribers(t, hub, "org-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunSubscriber(ctx, client, "", hub, nil)

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(100 * time.Millisecond)

	publisher := NewRedisPublisher(client, "")
	entry := events.OutboxEntry{
		ID:      uuid.New(),
		OrgID:   "org-1",
		Type:    "appointment.transitioned.v1",
		Payload: json.RawMessage(`{"to_status":"confirmed"}`),
	}
	require.NoError(t, publisher.Handle(context.Background(), entry))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "appointment.transitioned.v1", frame.Type)
	assert.JSONEq(t, `{"to_status":"confirmed"}`, string(frame.Payload))
}
