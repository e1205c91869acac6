package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

func sampleAssignment() models.Assignment {
	return models.Assignment{
		ID:         uuid.MustParse("3f2c1b8e-6a0d-4c4e-9a57-1f2b3c4d5e6f"),
		AlertID:    "alert-1",
		AgentID:    "agent-b",
		Strategy:   models.StrategyTerritoryBased,
		AssignedAt: time.Date(2024, 5, 7, 9, 30, 0, 0, time.UTC),
		Current:    true,
	}
}

type fakeWriter struct {
	failures int
	calls    int
	msgs     []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("leader not available")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifierRetriesAndKeysByAlert(t *testing.T) {
	w := &fakeWriter{failures: 2}
	k := newKafkaNotifier(w, KafkaConfig{MaxAttempts: 3, Backoff: time.Millisecond})

	require.NoError(t, k.AlertAssigned(context.Background(), sampleAssignment()))
	assert.Equal(t, 3, w.calls)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "alert-1", string(w.msgs[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, EventAlertAssigned, ev.Type)
	require.NotNil(t, ev.Assignment)
	assert.Equal(t, "agent-b", ev.Assignment.AgentID)
}

func TestKafkaNotifierGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	k := newKafkaNotifier(w, KafkaConfig{MaxAttempts: 2, Backoff: time.Millisecond})

	err := k.RuleTriggered(context.Background(), models.RuleNotification{AlertID: "alert-1", RuleID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, w.calls)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     make(http.Header),
	}
}

func TestWebhookNotifierRetriesServerErrors(t *testing.T) {
	var calls int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var ev Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, EventAlertAssigned, ev.Type)
		if n == 1 {
			return respond(http.StatusServiceUnavailable), nil
		}
		return respond(http.StatusAccepted), nil
	})
	w, err := NewWebhookNotifier(WebhookConfig{
		URL:        "http://hooks.local/alerts",
		Retries:    1,
		HTTPClient: &http.Client{Transport: transport},
	})
	require.NoError(t, err)

	require.NoError(t, w.AlertAssigned(context.Background(), sampleAssignment()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestWebhookNotifierDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return respond(http.StatusBadRequest), nil
	})
	w, err := NewWebhookNotifier(WebhookConfig{
		URL:        "http://hooks.local/alerts",
		Retries:    3,
		HTTPClient: &http.Client{Transport: transport},
	})
	require.NoError(t, err)

	err = w.RuleTriggered(context.Background(), models.RuleNotification{AlertID: "alert-1"})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	_, err = NewWebhookNotifier(WebhookConfig{})
	assert.Error(t, err)
}

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, b)
	return &manager.UploadOutput{}, nil
}

func TestS3ArchiverObjectLayout(t *testing.T) {
	up := &fakeUploader{}
	a := &S3Archiver{bucket: "alerts-archive", prefix: "prod", uploader: up}

	require.NoError(t, a.AlertAssigned(context.Background(), sampleAssignment()))
	require.Len(t, up.inputs, 1)
	assert.Equal(t, "alerts-archive", *up.inputs[0].Bucket)
	assert.Equal(t, "prod/assignments/2024/05/07/alert-1/3f2c1b8e-6a0d-4c4e-9a57-1f2b3c4d5e6f.json", *up.inputs[0].Key)

	var stored models.Assignment
	require.NoError(t, json.Unmarshal(up.bodies[0], &stored))
	assert.Equal(t, models.StrategyTerritoryBased, stored.Strategy)

	assert.NoError(t, a.RuleTriggered(context.Background(), models.RuleNotification{}))
	assert.Len(t, up.inputs, 1)
}

type erroringNotifier struct{ err error }

func (e erroringNotifier) AlertAssigned(ctx context.Context, a models.Assignment) error { return e.err }

func (e erroringNotifier) RuleTriggered(ctx context.Context, n models.RuleNotification) error {
	return e.err
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	logN := NewLogNotifier(log.New(&buf, "", 0))
	m := NewMulti(erroringNotifier{err: errors.New("boom")}, nil, logN)

	err := m.AlertAssigned(context.Background(), sampleAssignment())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, buf.String(), "alert alert-1 assigned to agent-b via territory_based")

	assert.NoError(t, NewMulti(logN).RuleTriggered(context.Background(), models.RuleNotification{RuleID: "r1", AlertID: "alert-1"}))
}
