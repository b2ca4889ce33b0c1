package notify

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (c *captureSender) Send(payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureSender) waitForPayload(t *testing.T) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.payloads) > 0 {
			payload := c.payloads[0]
			c.mu.Unlock()
			return payload
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for notification")
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestNotifyReachesOnlySessionMembers(t *testing.T) {
	registry := NewRegistry()

	inSession := &captureSender{}
	outOfSession := &captureSender{}
	unattached := &captureSender{}

	member := registry.Register("p1", "ash", inSession)
	member.SetSession("mistfall")
	other := registry.Register("p2", "brook", outOfSession)
	other.SetSession("elsewhere")
	registry.Register("p3", "cinder", unattached)

	registry.Notify("mistfall", UpdateHistory, map[string]any{"turnNumber": 4})

	payload := inSession.waitForPayload(t)
	if payload["type"] != string(UpdateHistory) {
		t.Fatalf("unexpected type %v", payload["type"])
	}
	if payload["sessionCode"] != "mistfall" {
		t.Fatalf("unexpected session code %v", payload["sessionCode"])
	}
	if payload["turnNumber"] != 4 {
		t.Fatalf("unexpected payload value %v", payload["turnNumber"])
	}

	time.Sleep(50 * time.Millisecond)
	if outOfSession.count() != 0 || unattached.count() != 0 {
		t.Fatal("notification leaked outside the session")
	}
}

func TestMembersSortedByCode(t *testing.T) {
	registry := NewRegistry()

	for _, code := range []string{"cinder", "ash", "brook"} {
		conn := registry.Register("id-"+code, code, &captureSender{})
		conn.SetSession("mistfall")
	}
	stray := registry.Register("id-stray", "stray", &captureSender{})
	stray.SetSession("elsewhere")

	members := registry.Members("mistfall")
	if !reflect.DeepEqual(members, []string{"ash", "brook", "cinder"}) {
		t.Fatalf("unexpected members: %v", members)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	registry := NewRegistry()

	sender := &captureSender{}
	conn := registry.Register("p1", "ash", sender)
	conn.SetSession("mistfall")
	registry.Unregister(conn)

	registry.Notify("mistfall", UpdateFlagWaiting, nil)
	time.Sleep(50 * time.Millisecond)
	if sender.count() != 0 {
		t.Fatal("expected no delivery after unregister")
	}
}

func TestSetSessionMovesConnection(t *testing.T) {
	registry := NewRegistry()

	sender := &captureSender{}
	conn := registry.Register("p1", "ash", sender)
	conn.SetSession("mistfall")
	conn.SetSession("harbor")

	registry.Notify("mistfall", UpdateFlagDown, nil)
	time.Sleep(50 * time.Millisecond)
	if sender.count() != 0 {
		t.Fatal("expected no delivery for the old session")
	}

	registry.Notify("harbor", UpdateFlagDown, nil)
	payload := sender.waitForPayload(t)
	if payload["sessionCode"] != "harbor" {
		t.Fatalf("unexpected session code %v", payload["sessionCode"])
	}
}
