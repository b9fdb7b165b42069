package webhooks

import "testing"

func TestVerifySignature(t *testing.T) {
	secret := "s3cret"
	body := []byte(`{"subscription":{"type":"stream.online"}}`)
	sig := computeSignature(secret, "msg-1", "2024-03-01T10:00:00Z", body)

	if !VerifySignature(secret, "msg-1", "2024-03-01T10:00:00Z", sig, body) {
		t.Error("valid signature rejected")
	}
	if VerifySignature(secret, "msg-2", "2024-03-01T10:00:00Z", sig, body) {
		t.Error("signature accepted for a different message id")
	}
	if VerifySignature(secret, "msg-1", "2024-03-01T10:00:01Z", sig, body) {
		t.Error("signature accepted for a different timestamp")
	}
	if VerifySignature(secret, "msg-1", "2024-03-01T10:00:00Z", sig, []byte("tampered")) {
		t.Error("signature accepted for a tampered body")
	}
	if VerifySignature("other", "msg-1", "2024-03-01T10:00:00Z", sig, body) {
		t.Error("signature accepted with the wrong secret")
	}
	if VerifySignature(secret, "msg-1", "2024-03-01T10:00:00Z", "", body) {
		t.Error("empty signature accepted")
	}
}

func TestReplayGuardBoundedMemory(t *testing.T) {
	guard := newReplayGuard(3)

	for _, id := range []string{"a", "b", "c"} {
		if guard.Seen(id) {
			t.Errorf("fresh id %q reported as seen", id)
		}
		guard.Mark(id)
	}
	if !guard.Seen("a") {
		t.Error("recent id not remembered")
	}
	guard.Mark("a") // re-marking must not duplicate the entry
	// Evicts "a", the oldest entry.
	guard.Mark("d")
	if guard.Seen("a") {
		t.Error("evicted id should read as fresh again")
	}
	if !guard.Seen("c") {
		t.Error("retained id should still be remembered")
	}
	if !guard.Seen("d") {
		t.Error("newest id should be remembered")
	}
}
