package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// JetStream is an embedded NATS server with JetStream enabled and a client
// connected to it. It shuts down when the test ends.
type JetStream struct {
	Server *server.Server
	Conn   *nats.Conn
	JS     nats.JetStreamContext
}

// StartJetStream starts a JetStream server on a free port with its store in
// a test temp dir
func StartJetStream(t *testing.T) *JetStream {
	t.Helper()

	s, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}
	t.Cleanup(s.Shutdown)

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	return &JetStream{Server: s, Conn: nc, JS: js}
}

// URL is the client URL of the embedded server
func (j *JetStream) URL() string {
	return j.Server.ClientURL()
}

// RequireStream fails the test unless the stream exists within timeout
func (j *JetStream) RequireStream(t *testing.T, name string, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := j.JS.StreamInfo(name)
		return err == nil
	}, timeout, 50*time.Millisecond, "stream %s not created", name)
}

// Collect reads messages published on subject until n arrive or timeout
// passes, whichever is first
func (j *JetStream) Collect(subject string, n int, timeout time.Duration) ([][]byte, error) {
	sub, err := j.JS.SubscribeSync(subject, nats.DeliverAll())
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var out [][]byte
	deadline := time.Now().Add(timeout)
	for len(out) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		msg, err := sub.NextMsg(remaining)
		if errors.Is(err, nats.ErrTimeout) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, msg.Data)
	}
	return out, nil
}
