package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

type event struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

func TestDecode(t *testing.T) {
	msg := &nats.Msg{Data: []byte(`{"id":"qa-1","kind":"upsert"}`)}
	v, ctx, err := Decode[event](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	if v.ID != "qa-1" || v.Kind != "upsert" {
		t.Errorf("got %+v", v)
	}
}

func TestDecode_Malformed(t *testing.T) {
	msg := &nats.Msg{Data: []byte(`not json`)}
	if _, _, err := Decode[event](msg); err == nil {
		t.Fatal("expected error")
	}
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*natsHeaderCarrier)(msg)

	if c.Get("traceparent") != "" {
		t.Error("empty carrier should return empty value")
	}
	if c.Keys() != nil {
		t.Error("empty carrier should have no keys")
	}

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("got %q", got)
	}
	if len(c.Keys()) != 1 {
		t.Errorf("keys = %v", c.Keys())
	}
	if msg.Header.Get("traceparent") == "" {
		t.Error("set should write through to the message header")
	}
}
