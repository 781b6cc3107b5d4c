package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSSinkPublishesToBuildSubject(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("builds.sess_1.>")
	require.NoError(t, err)

	sink := NewNATSSink(nc, nil)
	err = sink.Publish(context.Background(), Event{
		SessionID: "sess_1",
		Type:      TypePhase,
		Payload:   map[string]any{"from": "parallel_build", "to": "verification"},
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "builds.sess_1.phase", msg.Subject)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "sess_1", got.SessionID)
	assert.Equal(t, TypePhase, got.Type)
	assert.Equal(t, "verification", got.Payload["to"])
	assert.False(t, got.Timestamp.IsZero())
}

func TestRecorderKeepsOrder(t *testing.T) {
	rec := &Recorder{}
	require.NoError(t, rec.Publish(context.Background(), Event{SessionID: "s", Type: TypeStarted}))
	require.NoError(t, rec.Publish(context.Background(), Event{SessionID: "s", Type: TypeCompleted}))

	assert.Equal(t, []Type{TypeStarted, TypeCompleted}, rec.Types())
	assert.Len(t, rec.Events(), 2)
}

func TestNopDiscards(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{SessionID: "s", Type: TypeFailed}))
}
