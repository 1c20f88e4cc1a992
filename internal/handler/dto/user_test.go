package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/keymeter/keymeter/internal/model"
)

func TestParseLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		want   int64
		wantOK bool
	}{
		{"absent", "", 0, false},
		{"null", "null", 0, false},
		{"positive", "25", 25, true},
		{"one", "1", 1, true},
		{"zero", "0", 0, false},
		{"negative", "-3", 0, false},
		{"fraction", "2.5", 0, false},
		{"exponent", "1e3", 0, false},
		{"string integer", `"40"`, 40, true},
		{"padded string", `" 7 "`, 7, true},
		{"string word", `"lots"`, 0, false},
		{"bool", "true", 0, false},
		{"object", "{}", 0, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ParseLimit(json.RawMessage(tt.raw))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseLimit(%s) = (%d, %v), want (%d, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestToUserResponse_RemainingRequests(t *testing.T) {
	t.Parallel()

	user := &model.User{
		ID:           3,
		Username:     "alice",
		MonthlyLimit: 5,
		RequestsUsed: 7,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	resp := ToUserResponse(user)
	if resp.RemainingRequests != -2 {
		t.Errorf("RemainingRequests = %d, want -2", resp.RemainingRequests)
	}
}

func TestToUserListResponse_EmptyIsNotNil(t *testing.T) {
	t.Parallel()

	out := ToUserListResponse(nil)
	if out == nil {
		t.Fatal("expected empty non-nil slice")
	}

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("marshal = %s, want []", data)
	}
}
