package push

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/memoforge/pipeline/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// decryptForTest reverses encryptPayload using the subscriber's private
// key, mirroring what a real push-service client would do, to prove the
// aes128gcm envelope this package produces is actually decryptable.
func decryptForTest(t *testing.T, subscriberPriv *ecdh.PrivateKey, authSecret []byte, encoded []byte) []byte {
	t.Helper()
	salt := encoded[0:16]
	rs := binary.BigEndian.Uint32(encoded[16:20])
	if rs != recordSize {
		t.Fatalf("unexpected record size %d", rs)
	}
	idLen := int(encoded[20])
	serverPublicRaw := encoded[21 : 21+idLen]
	ciphertext := encoded[21+idLen:]

	curve := ecdh.P256()
	serverPublic, err := curve.NewPublicKey(serverPublicRaw)
	if err != nil {
		t.Fatalf("bad server public key: %v", err)
	}
	sharedSecret, err := subscriberPriv.ECDH(serverPublic)
	if err != nil {
		t.Fatalf("ecdh failed: %v", err)
	}

	subscriberPublicRaw := subscriberPriv.PublicKey().Bytes()
	info := buildKeyInfo(subscriberPublicRaw, serverPublicRaw)
	prk := hkdfExpand(authSecret, sharedSecret, info, 32)
	cek := hkdfExpand(salt, prk, []byte("Content-Encoding: aes128gcm\x00"), 16)
	nonce := hkdfExpand(salt, prk, []byte("Content-Encoding: nonce\x00"), 12)

	block, err := aes.NewCipher(cek)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("cipher.NewGCM: %v", err)
	}
	padded, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		t.Fatalf("gcm.Open: %v", err)
	}
	if len(padded) == 0 || padded[len(padded)-1] != 0x02 {
		t.Fatalf("missing single-record padding delimiter")
	}
	return padded[:len(padded)-1]
}

func TestEncryptPayload_RoundTrips(t *testing.T) {
	curve := ecdh.P256()
	subscriberKey, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate subscriber key: %v", err)
	}
	authSecret := make([]byte, 16)
	if _, err := rand.Read(authSecret); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}

	p256dh := base64.RawURLEncoding.EncodeToString(subscriberKey.PublicKey().Bytes())
	auth := base64.RawURLEncoding.EncodeToString(authSecret)

	plaintext := []byte(`{"title":"P0: fix the thing","actionId":"a1"}`)
	encoded, err := encryptPayload(p256dh, auth, plaintext)
	if err != nil {
		t.Fatalf("encryptPayload: %v", err)
	}

	got := decryptForTest(t, subscriberKey, authSecret, encoded)
	if string(got) != string(plaintext) {
		t.Fatalf("round-trip mismatch: got %q want %q", got, plaintext)
	}
}

// --- Notifier tests ---

type fakePushStore struct {
	subs   []domain.PushSubscription
	sent   map[string]bool
	sentOn []domain.PushSent
	del    []string
}

func (f *fakePushStore) ListSubscriptions(ctx context.Context) ([]domain.PushSubscription, error) {
	return f.subs, nil
}
func (f *fakePushStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	f.del = append(f.del, endpoint)
	return nil
}
func (f *fakePushStore) AddSubscription(ctx context.Context, s *domain.PushSubscription) error {
	f.subs = append(f.subs, *s)
	return nil
}
func (f *fakePushStore) WasSent(ctx context.Context, actionID string) (bool, error) {
	return f.sent[actionID], nil
}
func (f *fakePushStore) RecordSent(ctx context.Context, sent *domain.PushSent) error {
	f.sentOn = append(f.sentOn, *sent)
	return nil
}

type fakeProjectionStore struct {
	actions map[string]*domain.Action
}

func (f *fakeProjectionStore) DeleteProjectionsForEvent(ctx context.Context, eventID string) error {
	return nil
}
func (f *fakeProjectionStore) InsertAction(ctx context.Context, a *domain.Action, mentions []string) error {
	return nil
}
func (f *fakeProjectionStore) InsertBlocker(ctx context.Context, b *domain.Blocker) error { return nil }
func (f *fakeProjectionStore) InsertDependency(ctx context.Context, d *domain.Dependency) error {
	return nil
}
func (f *fakeProjectionStore) InsertIssue(ctx context.Context, i *domain.Issue) error { return nil }
func (f *fakeProjectionStore) InsertKnowledgeItem(ctx context.Context, k *domain.KnowledgeItem) error {
	return nil
}
func (f *fakeProjectionStore) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	return f.actions[id], nil
}
func (f *fakeProjectionStore) ListActionsForEpic(ctx context.Context, epicID string, onlyOpen bool, limit int) ([]domain.Action, error) {
	return nil, nil
}
func (f *fakeProjectionStore) ListOpenByEpic(ctx context.Context, epicID string) ([]domain.Blocker, []domain.Dependency, []domain.Issue, error) {
	return nil, nil, nil, nil
}
func (f *fakeProjectionStore) ListRecentEventExcerpts(ctx context.Context, epicID string, limit, maxChars int) ([]string, error) {
	return nil, nil
}

func testIdentity(t *testing.T) *VAPIDIdentity {
	t.Helper()
	curve := ecdh.P256()
	key, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate vapid key: %v", err)
	}
	priv := base64.RawURLEncoding.EncodeToString(key.Bytes())
	pub := base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	identity, err := NewVAPIDIdentity(pub, priv, "mailto:ops@example.com")
	if err != nil {
		t.Fatalf("NewVAPIDIdentity: %v", err)
	}
	return identity
}

func TestNotifier_SendForAction_SkipsAlreadySent(t *testing.T) {
	pushStore := &fakePushStore{sent: map[string]bool{"a1": true}}
	projStore := &fakeProjectionStore{actions: map[string]*domain.Action{}}
	n := New(pushStore, projStore, testIdentity(t), testLogger())

	if err := n.SendForAction(context.Background(), "a1"); err != nil {
		t.Fatalf("SendForAction: %v", err)
	}
	if len(pushStore.sentOn) != 0 {
		t.Fatalf("expected no new sent-ledger entries, got %d", len(pushStore.sentOn))
	}
}

func TestNotifier_SendForAction_PrunesGoneSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	curve := ecdh.P256()
	subKey, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate subscriber key: %v", err)
	}
	sub := domain.PushSubscription{
		ID:        "sub1",
		Endpoint:  srv.URL,
		PublicKey: base64.RawURLEncoding.EncodeToString(subKey.PublicKey().Bytes()),
		AuthKey:   base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef")),
	}
	pushStore := &fakePushStore{subs: []domain.PushSubscription{sub}, sent: map[string]bool{}}
	projStore := &fakeProjectionStore{actions: map[string]*domain.Action{
		"a1": {ID: "a1", SourceEventID: "e1", Title: "check migration", Priority: domain.PriorityP0, Type: domain.ActionFollowUp},
	}}
	n := New(pushStore, projStore, testIdentity(t), testLogger())

	if err := n.SendForAction(context.Background(), "a1"); err != nil {
		t.Fatalf("SendForAction: %v", err)
	}
	if len(pushStore.del) != 1 || pushStore.del[0] != srv.URL {
		t.Fatalf("expected subscription to be pruned, got %v", pushStore.del)
	}
	if len(pushStore.sentOn) != 1 {
		t.Fatalf("expected one sent-ledger entry, got %d", len(pushStore.sentOn))
	}
}
