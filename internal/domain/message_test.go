package domain

import (
	"testing"
)

func TestDirectRecipient(t *testing.T) {
	cases := []struct {
		name           string
		conversationID string
		senderID       string
		want           string
		ok             bool
	}{
		{"sender is first participant", "direct_user_alice_user_bob", "user_alice", "user_bob", true},
		{"sender is second participant", "direct_user_alice_user_bob", "user_bob", "user_alice", true},
		{"uuid participants", "direct_user_a1b2_user_c3d4", "user_a1b2", "user_c3d4", true},
		{"sender not a participant", "direct_user_alice_user_bob", "user_carol", "", false},
		{"group id", "group_1234", "user_alice", "", false},
		{"missing user prefix", "direct_alice_bob", "user_alice", "", false},
		{"single participant", "direct_user_alice", "user_alice", "", false},
		{"empty", "", "user_alice", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DirectRecipient(tc.conversationID, tc.senderID)
			if ok != tc.ok || got != tc.want {
				t.Errorf("DirectRecipient(%q, %q) = (%q, %v), want (%q, %v)",
					tc.conversationID, tc.senderID, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusSent, StatusDelivered},
		{StatusSent, StatusRead},
		{StatusDelivered, StatusRead},
	}
	for _, tr := range legal {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be legal", tr.from, tr.to)
		}
	}

	illegal := []struct{ from, to Status }{
		{StatusDelivered, StatusSent},
		{StatusRead, StatusDelivered},
		{StatusRead, StatusSent},
		{StatusRead, StatusRead},
	}
	for _, tr := range illegal {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be illegal", tr.from, tr.to)
		}
	}
}

func TestParseMessageEvent(t *testing.T) {
	raw := []byte(`{
		"message_id": "m1",
		"conversation_id": "direct_user_alice_user_bob",
		"sender_id": "user_alice",
		"content": "hi",
		"timestamp": 1735689600000,
		"event_type": "message_sent",
		"file_id": "f1",
		"file_metadata": {"filename": "doc.pdf"}
	}`)

	ev, err := ParseMessageEvent(raw)
	if err != nil {
		t.Fatalf("ParseMessageEvent: %v", err)
	}
	if ev.MessageID != "m1" || ev.SenderID != "user_alice" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.FileMetadata["filename"] != "doc.pdf" {
		t.Errorf("file metadata not carried: %+v", ev.FileMetadata)
	}
	if ev.SentAt().Unix() != 1735689600 {
		t.Errorf("SentAt = %v", ev.SentAt())
	}

	if _, err := ParseMessageEvent([]byte(`{"content":"no ids"}`)); err == nil {
		t.Error("expected error for event missing ids")
	}
	if _, err := ParseMessageEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed json")
	}
}

func TestIsGroupConversation(t *testing.T) {
	if !IsGroupConversation("group_550e8400") {
		t.Error("group_ id should be a group conversation")
	}
	if IsGroupConversation("direct_user_a_user_b") {
		t.Error("direct id should not be a group conversation")
	}
}
