package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streampulse/backend/internal/models"
)

const testSecret = "test-secret"

type fakeTracker struct {
	liveCalls    []string
	offlineCalls []string
	liveErrs     []error // popped per live call; nil entries succeed
}

func (f *fakeTracker) HandleLiveSignal(_ context.Context, broadcasterID string, _ time.Time, _ models.SessionMeta) error {
	f.liveCalls = append(f.liveCalls, broadcasterID)
	if len(f.liveErrs) > 0 {
		err := f.liveErrs[0]
		f.liveErrs = f.liveErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTracker) HandleOfflineSignal(_ context.Context, broadcasterID string, _ time.Time) error {
	f.offlineCalls = append(f.offlineCalls, broadcasterID)
	return nil
}

func newTestRouter(tracker SignalHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(testSecret, tracker, nil, nil, nil, nil)
	router.POST("/webhooks/twitch", handler.Receive)
	return router
}

var messageSeq int

func signedRequest(t *testing.T, messageType string, body []byte) *http.Request {
	t.Helper()
	messageSeq++
	messageID := "msg-" + strconv.Itoa(messageSeq)
	return signedRequestWithID(t, messageType, messageID, body)
}

func signedRequestWithID(t *testing.T, messageType, messageID string, body []byte) *http.Request {
	t.Helper()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twitch", bytes.NewReader(body))
	req.Header.Set(HeaderMessageID, messageID)
	req.Header.Set(HeaderMessageTimestamp, timestamp)
	req.Header.Set(HeaderMessageSignature, computeSignature(testSecret, messageID, timestamp, body))
	req.Header.Set(HeaderMessageType, messageType)
	return req
}

func notificationBody(t *testing.T, eventType string, event any) []byte {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	body, err := json.Marshal(models.EventSubNotification{
		Subscription: models.EventSubSubscription{ID: "sub-1", Type: eventType, Status: "enabled"},
		Event:        raw,
	})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	return body
}

func TestChallengeEchoedAsPlainText(t *testing.T) {
	router := newTestRouter(&fakeTracker{})
	body, _ := json.Marshal(models.EventSubNotification{
		Subscription: models.EventSubSubscription{ID: "sub-1", Type: models.EventStreamOnline},
		Challenge:    "pogchamp-challenge",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, MessageTypeVerification, body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "pogchamp-challenge" {
		t.Errorf("body = %q, want the raw challenge", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("content-type = %q, want text/plain", ct)
	}
}

func TestInvalidSignatureRejected(t *testing.T) {
	tracker := &fakeTracker{}
	router := newTestRouter(tracker)
	body := notificationBody(t, models.EventStreamOnline, models.StreamOnlineEvent{BroadcasterUserID: "123"})

	req := signedRequest(t, MessageTypeNotification, body)
	req.Header.Set(HeaderMessageSignature, "sha256=deadbeef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if len(tracker.liveCalls) != 0 {
		t.Error("tracker must not be invoked for a forged message")
	}
}

func TestOnlineNotificationDispatched(t *testing.T) {
	tracker := &fakeTracker{}
	router := newTestRouter(tracker)
	body := notificationBody(t, models.EventStreamOnline, models.StreamOnlineEvent{
		BroadcasterUserID:    "123",
		BroadcasterUserLogin: "ninja",
		StartedAt:            "2024-03-01T10:00:00Z",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, MessageTypeNotification, body))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(tracker.liveCalls) != 1 || tracker.liveCalls[0] != "123" {
		t.Errorf("live calls = %v, want [123]", tracker.liveCalls)
	}
}

func TestOfflineNotificationDispatched(t *testing.T) {
	tracker := &fakeTracker{}
	router := newTestRouter(tracker)
	body := notificationBody(t, models.EventStreamOffline, models.StreamOfflineEvent{BroadcasterUserID: "123"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, MessageTypeNotification, body))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(tracker.offlineCalls) != 1 {
		t.Errorf("offline calls = %v, want one call", tracker.offlineCalls)
	}
}

func TestRedeliveredMessageProcessedOnce(t *testing.T) {
	tracker := &fakeTracker{}
	router := newTestRouter(tracker)
	body := notificationBody(t, models.EventStreamOnline, models.StreamOnlineEvent{BroadcasterUserID: "123"})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, signedRequestWithID(t, MessageTypeNotification, "dup-msg", body))
		if w.Code != http.StatusNoContent {
			t.Fatalf("delivery %d: status = %d, want 204", i, w.Code)
		}
	}
	if len(tracker.liveCalls) != 1 {
		t.Errorf("live calls = %d, want 1 (redeliveries acknowledged only)", len(tracker.liveCalls))
	}
}

func TestRetryAfterFailureReprocessed(t *testing.T) {
	tracker := &fakeTracker{liveErrs: []error{errors.New("storage unavailable")}}
	router := newTestRouter(tracker)
	body := notificationBody(t, models.EventStreamOnline, models.StreamOnlineEvent{BroadcasterUserID: "123"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequestWithID(t, MessageTypeNotification, "retry-msg", body))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("failed delivery: status = %d, want 500", w.Code)
	}

	// The retry of a failed delivery carries the same message id and must
	// reach the tracker, not be acknowledged as a replay.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, signedRequestWithID(t, MessageTypeNotification, "retry-msg", body))
	if w.Code != http.StatusNoContent {
		t.Fatalf("retried delivery: status = %d, want 204", w.Code)
	}
	if len(tracker.liveCalls) != 2 {
		t.Errorf("live calls = %d, want 2 (retry must be reprocessed)", len(tracker.liveCalls))
	}

	// Once processed, further redeliveries are suppressed.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, signedRequestWithID(t, MessageTypeNotification, "retry-msg", body))
	if w.Code != http.StatusNoContent {
		t.Fatalf("redelivery: status = %d, want 204", w.Code)
	}
	if len(tracker.liveCalls) != 2 {
		t.Errorf("live calls = %d, want 2 after successful processing", len(tracker.liveCalls))
	}
}

func TestRevocationAcknowledged(t *testing.T) {
	tracker := &fakeTracker{}
	router := newTestRouter(tracker)
	body := notificationBody(t, models.EventStreamOnline, models.StreamOnlineEvent{BroadcasterUserID: "123"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, MessageTypeRevocation, body))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(tracker.liveCalls) != 0 {
		t.Error("revocation must not dispatch a live signal")
	}
}
