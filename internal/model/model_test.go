package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestIdentityJSONOmitsSecretHash(t *testing.T) {
	id := Identity{
		Name:       "alice",
		SecretHash: "$2a$10$abcdefghijklmnopqrstuv",
		CreatedAt:  time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if strings.Contains(string(b), "secret") || strings.Contains(string(b), "$2a$") {
		t.Errorf("secret hash leaked into JSON: %s", b)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m["deleted_at"]; ok {
		t.Error("expected 'deleted_at' to be omitted when nil")
	}
}

func TestIdentityPurgeAfter(t *testing.T) {
	var id Identity
	if id.PendingDeletion() {
		t.Fatal("fresh identity should not be pending deletion")
	}
	if !id.PurgeAfter(time.Hour).IsZero() {
		t.Error("PurgeAfter should be zero without a deletion marker")
	}

	deleted := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	id.DeletedAt = &deleted
	if !id.PendingDeletion() {
		t.Fatal("expected pending deletion")
	}
	want := deleted.Add(30 * 24 * time.Hour)
	if got := id.PurgeAfter(30 * 24 * time.Hour); !got.Equal(want) {
		t.Errorf("PurgeAfter = %v, want %v", got, want)
	}
}

func TestErrorResponseRetryAfter(t *testing.T) {
	b, _ := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: 400, Message: "bad"}})
	if strings.Contains(string(b), "retry_after") {
		t.Errorf("retry_after should be omitted when zero: %s", b)
	}

	b, _ = json.Marshal(ErrorResponse{Error: ErrorDetail{Code: 429, Message: "slow down"}, RetryAfter: 58})
	if !strings.Contains(string(b), `"retry_after":58`) {
		t.Errorf("expected retry_after in body: %s", b)
	}
}
