package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/textile-storefront/internal/dynamotest"
)

const testTable = "idempotency-table"

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New().CreateTable(testTable, "idempotency_key")
	return NewStore(fake, testTable, 48*time.Hour), fake
}

func TestBegin_MarkDone_Replay(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	key := ScopedKey("user-1", "key-1")

	rec, created, err := s.Begin(ctx, key, "fp-1")
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !created || rec != nil {
		t.Fatalf("expected created=true, got created=%v rec=%+v", created, rec)
	}

	// second Begin sees the in-progress record
	rec, created, err = s.Begin(ctx, key, "fp-1")
	if err != nil {
		t.Fatalf("second Begin error: %v", err)
	}
	if created || rec == nil || rec.Status != StatusInProgress {
		t.Fatalf("expected in-progress record, got created=%v rec=%+v", created, rec)
	}

	if err := s.MarkDone(ctx, key, "order-123", `{"ok":true}`, 200); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}

	item := fake.Item(testTable, key)
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
	if rs, ok := item["response_status"].(*types.AttributeValueMemberN); !ok || rs.Value != "200" {
		t.Fatalf("response_status not set correctly: %+v", item["response_status"])
	}

	rec, created, err = s.Begin(ctx, key, "fp-1")
	if err != nil || created {
		t.Fatalf("replay Begin: created=%v err=%v", created, err)
	}
	if rec.Status != StatusDone || rec.ResponseBody != `{"ok":true}` || rec.OrderID != "order-123" || rec.ResponseStatus != 200 {
		t.Fatalf("unexpected replay record %+v", rec)
	}
	if rec.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expected ttl in the future, got %d", rec.ExpiresAt)
	}
}

func TestBegin_FingerprintMismatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Begin(ctx, "k", "fp-1"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if _, _, err := s.Begin(ctx, "k", "fp-2"); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}
}

func TestBegin_TakesOverFailedKey(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Begin(ctx, "k", "fp"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := s.MarkFailed(ctx, "k", "payment gateway down"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item := fake.Item(testTable, "k")
	if n, ok := item["note"].(*types.AttributeValueMemberS); !ok || n.Value != "payment gateway down" {
		t.Fatalf("note not set, got %+v", item["note"])
	}

	rec, created, err := s.Begin(ctx, "k", "fp")
	if err != nil || !created || rec != nil {
		t.Fatalf("expected takeover of failed key, got created=%v rec=%+v err=%v", created, rec, err)
	}
	got, _ := s.Get(ctx, "k")
	if got.Status != StatusInProgress || got.Note != "" {
		t.Fatalf("expected fresh in-progress record, got %+v", got)
	}
}

func TestMarkDone_RequiresInProgress(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.MarkDone(context.Background(), "never-started", "o", "{}", 200); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestGet_NotFound(t *testing.T) {
	s, fake := newTestStore(t)

	rec, err := s.Get(context.Background(), "missing")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}

	fake.FailNext("GetItem", errors.New("throttled"))
	if _, err := s.Get(context.Background(), "missing"); err == nil {
		t.Fatalf("expected wrapped error")
	}
}
