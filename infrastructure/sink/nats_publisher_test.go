package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesync/domain/contracts"
	"drivesync/domain/drive"
)

type publishedMsg struct {
	subject string
	data    []byte
	msgID   string
}

type fakeJetStream struct {
	streams    map[string]*nats.StreamConfig
	published  []publishedMsg
	attempts   []string
	publishErr error
	// failures are returned, in order, before publishErr is consulted.
	failures []error
}

func newFakeJetStream() *fakeJetStream {
	return &fakeJetStream{streams: make(map[string]*nats.StreamConfig)}
}

func (f *fakeJetStream) StreamInfo(stream string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	cfg, ok := f.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJetStream) PublishMsg(m *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	id := m.Header.Get(nats.MsgIdHdr)
	f.attempts = append(f.attempts, id)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = append(f.published, publishedMsg{subject: m.Subject, data: m.Data, msgID: id})
	return &nats.PubAck{Stream: "SECURITY_INDEX", Sequence: uint64(len(f.published))}, nil
}

var sinkScope = drive.DriveScope{TenantID: "contoso.com", SiteID: "s1", DriveID: "d1"}

func TestNATSPublisher_EnsureStreamCreatesOnce(t *testing.T) {
	// Arrange
	js := newFakeJetStream()
	p := newPublisher(js, Config{})

	// Act
	require.NoError(t, p.EnsureStream(context.Background()))
	require.NoError(t, p.EnsureStream(context.Background()))

	// Assert
	require.Contains(t, js.streams, "SECURITY_INDEX")
	assert.Equal(t, []string{"drivesync.>"}, js.streams["SECURITY_INDEX"].Subjects)
	assert.Equal(t, 10*time.Minute, js.streams["SECURITY_INDEX"].Duplicates)
}

func TestNATSPublisher_UpdateObjectsBatches(t *testing.T) {
	// Arrange
	js := newFakeJetStream()
	p := newPublisher(js, Config{BatchSize: 2})
	objects := []drive.SecurityObject{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	// Act
	err := p.UpdateObjects(context.Background(), sinkScope, objects)

	// Assert
	require.NoError(t, err)
	require.Len(t, js.published, 2)
	assert.Equal(t, "drivesync.contoso_com.objects.update", js.published[0].subject)

	var first Envelope
	require.NoError(t, json.Unmarshal(js.published[0].data, &first))
	assert.Equal(t, "update", first.Op)
	assert.Equal(t, "d1", first.DriveID)
	assert.Len(t, first.Objects, 2)
	assert.NotEqual(t, js.published[0].msgID, js.published[1].msgID)
}

func TestNATSPublisher_RepeatedDeleteIsNotDeduplicated(t *testing.T) {
	// Arrange
	js := newFakeJetStream()
	p := newPublisher(js, Config{})
	ctx := context.Background()

	// Act
	require.NoError(t, p.DeleteObjects(ctx, sinkScope, []string{"x"}))
	require.NoError(t, p.UpdateObjects(ctx, sinkScope, []drive.SecurityObject{{ID: "x"}}))
	require.NoError(t, p.DeleteObjects(ctx, sinkScope, []string{"x"}))

	// Assert
	require.Len(t, js.published, 3)
	assert.Equal(t, "drivesync.contoso_com.objects.delete", js.published[0].subject)
	assert.Equal(t, js.published[0].data, js.published[2].data)
	assert.NotEmpty(t, js.published[0].msgID)
	assert.NotEqual(t, js.published[0].msgID, js.published[2].msgID)
}

func TestNATSPublisher_AckTimeoutRetriesWithSameID(t *testing.T) {
	tests := []struct {
		name         string
		failures     []error
		wantErr      bool
		wantAttempts int
	}{
		{name: "one_timeout_then_ack", failures: []error{nats.ErrTimeout}, wantAttempts: 2},
		{name: "timeouts_exhaust_attempts", failures: []error{nats.ErrTimeout, nats.ErrTimeout, nats.ErrTimeout}, wantErr: true, wantAttempts: 3},
		{name: "other_errors_are_not_retried", failures: []error{nats.ErrNoResponders}, wantErr: true, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			js := newFakeJetStream()
			js.failures = tt.failures
			p := newPublisher(js, Config{})

			// Act
			err := p.DeleteObjects(context.Background(), sinkScope, []string{"x"})

			// Assert
			if tt.wantErr {
				assert.ErrorIs(t, err, contracts.ErrTransient)
			} else {
				require.NoError(t, err)
			}
			require.Len(t, js.attempts, tt.wantAttempts)
			for _, id := range js.attempts {
				assert.Equal(t, js.attempts[0], id)
			}
		})
	}
}

func TestNATSPublisher_EmptyBatchesPublishNothing(t *testing.T) {
	// Arrange
	js := newFakeJetStream()
	p := newPublisher(js, Config{})

	// Act
	require.NoError(t, p.UpdateObjects(context.Background(), sinkScope, nil))
	require.NoError(t, p.DeleteObjects(context.Background(), sinkScope, []string{}))

	// Assert
	assert.Empty(t, js.published)
}

func TestNATSPublisher_Sweep(t *testing.T) {
	// Arrange
	js := newFakeJetStream()
	p := newPublisher(js, Config{SubjectPrefix: "idx"})
	cutoff := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

	// Act
	require.NoError(t, p.DeleteObjectsSyncedBefore(context.Background(), sinkScope, cutoff))

	// Assert
	require.Len(t, js.published, 1)
	assert.Equal(t, "idx.contoso_com.objects.sweep", js.published[0].subject)
	var env Envelope
	require.NoError(t, json.Unmarshal(js.published[0].data, &env))
	require.NotNil(t, env.Cutoff)
	assert.True(t, cutoff.Equal(*env.Cutoff))
}

func TestNATSPublisher_PublishFailureIsTransient(t *testing.T) {
	// Arrange
	js := newFakeJetStream()
	js.publishErr = errors.New("nats: timeout")
	p := newPublisher(js, Config{})

	// Act
	err := p.DeleteObjects(context.Background(), sinkScope, []string{"x"})

	// Assert
	assert.ErrorIs(t, err, contracts.ErrTransient)
}
