package protocol

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestDecodeBase(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantErr  bool
	}{
		{name: "valid", raw: `{"type":"trade_confirm","v":1}`, wantType: TypeTradeConfirm},
		{name: "missing type", raw: `{"v":1}`, wantErr: true},
		{name: "not json", raw: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := DecodeBase([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeBase() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && base.Type != tt.wantType {
				t.Errorf("type = %q, want %q", base.Type, tt.wantType)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "direct", err: PreconditionFailed("too poor"), want: ErrPreconditionFailed},
		{name: "wrapped", err: fmt.Errorf("handling request: %w", NoSuchEntity("gone")), want: ErrNoSuchEntity},
		{name: "not protocol", err: fmt.Errorf("connection reset"), want: ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReasonOf_HidesInternals(t *testing.T) {
	err := fmt.Errorf("pq: connection refused at 10.0.0.5")
	if got := ReasonOf(err); got != "internal server error" {
		t.Errorf("ReasonOf() = %q, leaked internals", got)
	}
	if got := ReasonOf(StateConflict("listing is no longer active")); got != "listing is no longer active" {
		t.Errorf("ReasonOf() = %q, want the rejection reason", got)
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	n := NewNotification(TypeListingOutbid, map[string]int{"amount": 150})
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	base, err := DecodeBase(b)
	if err != nil {
		t.Fatalf("DecodeBase() error = %v", err)
	}
	if base.Type != TypeListingOutbid || base.Version != Version {
		t.Errorf("envelope = %+v, want type %s v%d", base, TypeListingOutbid, Version)
	}
}
