package models

import (
	"testing"
)

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    OrderStatus
		wantErr bool
	}{
		{"2", StatusOpen, false},
		{"8", StatusFilled, false},
		{"6", StatusCanceled, false},
		{"4", StatusPendingCancel, false},
		{"open", StatusOpen, false},
		{" FILLED ", StatusFilled, false},
		{"cancelled", StatusCanceled, false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOrderStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseOrderStatus(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseOrderStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOrderStatus_IsFinal(t *testing.T) {
	final := []OrderStatus{StatusPendingCancel, StatusPartCanceled, StatusCanceled, StatusFilled, StatusRejected}
	for _, s := range final {
		if !s.IsFinal() {
			t.Errorf("%s should be final", s)
		}
	}
	for _, s := range []OrderStatus{StatusNew, StatusOpen, StatusPartial} {
		if s.IsFinal() {
			t.Errorf("%s should not be final", s)
		}
	}
}

func TestOrder_TransitionTo(t *testing.T) {
	o := Order{Status: StatusNew, Side: SideSell, Quantity: 100}
	if err := o.TransitionTo(StatusOpen); err != nil {
		t.Fatalf("new -> open: %v", err)
	}
	if err := o.TransitionTo(StatusFilled); err != nil {
		t.Fatalf("open -> filled: %v", err)
	}
	if err := o.TransitionTo(StatusOpen); err == nil {
		t.Fatal("expected filled -> open to be rejected")
	}
	if o.Amount() != -100 {
		t.Errorf("Amount() = %d, want -100", o.Amount())
	}
}
