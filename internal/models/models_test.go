package models

import "testing"

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}

	kept := BaseModel{ID: "fixed"}
	_ = kept.BeforeCreate(nil)
	if kept.ID != "fixed" {
		t.Fatalf("expected existing ID to be kept, got %q", kept.ID)
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"user", func() *BaseModel {
			u := &User{}
			return &u.BaseModel
		}},
		{"notification", func() *BaseModel {
			n := &Notification{}
			return &n.BaseModel
		}},
		{"interaction", func() *BaseModel {
			i := &Interaction{}
			return &i.BaseModel
		}},
		{"delivery_attempt", func() *BaseModel {
			d := &DeliveryAttempt{}
			return &d.BaseModel
		}},
		{"audit_log", func() *BaseModel {
			a := &AuditLog{}
			return &a.BaseModel
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			if err := model.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if model.ID == "" {
				t.Fatal("expected ID to be generated")
			}
		})
	}
}

func TestNotificationDeliveryByChannel(t *testing.T) {
	var n Notification
	n.SMS.Attempts = 2

	if got := n.Delivery(ChannelSMS); got == nil || got.Attempts != 2 {
		t.Fatalf("expected sms delivery, got %+v", got)
	}
	n.Delivery(ChannelPush).Sent = true
	if !n.Push.Sent {
		t.Fatal("expected Delivery to return a pointer into the notification")
	}
	if n.Delivery(Channel("fax")) != nil {
		t.Fatal("expected nil for unknown channel")
	}
}

func TestDeliveryStateTerminal(t *testing.T) {
	for _, state := range []DeliveryState{DeliveryDelivered, DeliverySuppressed, DeliveryFailed} {
		if !state.Terminal() {
			t.Fatalf("expected %s to be terminal", state)
		}
	}
	for _, state := range []DeliveryState{DeliveryPending, DeliveryInFlight} {
		if state.Terminal() {
			t.Fatalf("expected %s to be non-terminal", state)
		}
	}
}
