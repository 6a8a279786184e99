package matrix

import (
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

var testIdentity = identity{
	userID:      "@hikari:example.org",
	displayName: "Hikari",
	bots:        map[id.UserID]struct{}{"@bridge:example.org": {}},
}

func msgEvent(sender id.UserID, mc *event.MessageEventContent) *event.Event {
	return &event.Event{
		ID:      "$evt",
		Sender:  sender,
		RoomID:  "!room:example.org",
		Type:    event.EventMessage,
		Content: event.Content{Parsed: mc},
	}
}

func TestToMessage_Basic(t *testing.T) {
	msg, ok := testIdentity.toMessage(msgEvent("@alice:example.org", &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    "Hikari: good morning",
	}), false)
	if !ok {
		t.Fatal("expected message")
	}
	if msg.ID != "$evt" || msg.AuthorID != "@alice:example.org" || msg.GroupID != "!room:example.org" {
		t.Errorf("identity fields: got %+v", msg)
	}
	if !msg.MentionsCompanion {
		t.Error("display name prefix should count as mention")
	}
	if msg.AuthorIsBot || msg.Direct || msg.IsReply() {
		t.Errorf("unexpected flags: %+v", msg)
	}
}

func TestToMessage_Mentions(t *testing.T) {
	tests := []struct {
		name string
		mc   *event.MessageEventContent
		want bool
	}{
		{"m.mentions", &event.MessageEventContent{MsgType: event.MsgText, Body: "hey", Mentions: &event.Mentions{UserIDs: []id.UserID{"@hikari:example.org"}}}, true},
		{"mxid in body", &event.MessageEventContent{MsgType: event.MsgText, Body: "ping @hikari:example.org"}, true},
		{"pill", &event.MessageEventContent{MsgType: event.MsgText, Body: "Hikari hi", Format: event.FormatHTML, FormattedBody: `<a href="https://matrix.to/#/@hikari:example.org">Hikari</a> hi`}, true},
		{"comma", &event.MessageEventContent{MsgType: event.MsgText, Body: "hikari, hi"}, true},
		{"other user", &event.MessageEventContent{MsgType: event.MsgText, Body: "hey", Mentions: &event.Mentions{UserIDs: []id.UserID{"@bob:example.org"}}}, false},
		{"name mid-sentence", &event.MessageEventContent{MsgType: event.MsgText, Body: "I watched Hikari no Machi"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := testIdentity.toMessage(msgEvent("@alice:example.org", tt.mc), false)
			if !ok {
				t.Fatal("expected message")
			}
			if msg.MentionsCompanion != tt.want {
				t.Errorf("MentionsCompanion: got %v, want %v", msg.MentionsCompanion, tt.want)
			}
		})
	}
}

func TestToMessage_Bots(t *testing.T) {
	tests := []struct {
		sender id.UserID
		mt     event.MessageType
		want   bool
	}{
		{"@hikari:example.org", event.MsgText, true},
		{"@bridge:example.org", event.MsgText, true},
		{"@alice:example.org", event.MsgNotice, true},
		{"@alice:example.org", event.MsgText, false},
	}
	for _, tt := range tests {
		msg, _ := testIdentity.toMessage(msgEvent(tt.sender, &event.MessageEventContent{MsgType: tt.mt, Body: "x"}), true)
		if msg.AuthorIsBot != tt.want {
			t.Errorf("%s/%s: AuthorIsBot got %v, want %v", tt.sender, tt.mt, msg.AuthorIsBot, tt.want)
		}
	}
}

func TestToMessage_ReplyStripsFallback(t *testing.T) {
	msg, ok := testIdentity.toMessage(msgEvent("@alice:example.org", &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    "> <@hikari:example.org> earlier answer\n> second line\n\nthat's right",
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: "$prev"},
		},
	}), false)
	if !ok {
		t.Fatal("expected message")
	}
	if msg.ReplyToID != "$prev" {
		t.Errorf("ReplyToID: got %q", msg.ReplyToID)
	}
	if msg.Content != "that's right" {
		t.Errorf("Content: got %q", msg.Content)
	}
	if msg.MentionsCompanion {
		t.Error("quoted fallback must not count as a mention")
	}
}

func TestToMessage_Skipped(t *testing.T) {
	tests := map[string]*event.MessageEventContent{
		"image": {MsgType: event.MsgImage, Body: "cat.png"},
		"edit":  {MsgType: event.MsgText, Body: "* fixed", RelatesTo: &event.RelatesTo{Type: event.RelReplace, EventID: "$orig"}},
	}
	for name, mc := range tests {
		if _, ok := testIdentity.toMessage(msgEvent("@alice:example.org", mc), false); ok {
			t.Errorf("%s: expected skip", name)
		}
	}
}

func TestToReference(t *testing.T) {
	plain := msgEvent("@hikari:example.org", &event.MessageEventContent{MsgType: event.MsgText, Body: "Just chatting. See you!"})
	ref := toReference(plain)
	if ref.ID != "$evt" || ref.AuthorID != "@hikari:example.org" {
		t.Errorf("identity: got %+v", ref)
	}
	if ref.CommandMarker || ref.HasAttachments || ref.HasComponents || len(ref.Fields) != 0 {
		t.Errorf("plain reply has command traits: %+v", ref)
	}
	if ref.Footer != "Just chatting. See you!" {
		t.Errorf("Footer: got %q", ref.Footer)
	}

	marked := msgEvent("@hikari:example.org", &event.MessageEventContent{MsgType: event.MsgNotice, Body: "Remaining: 100\n\nhikari · budget"})
	marked.Content.Raw = map[string]any{CommandMarkerKey: "budget"}
	ref = toReference(marked)
	if !ref.CommandMarker || !ref.AuthorIsBot {
		t.Errorf("marker/notice: got %+v", ref)
	}
	if len(ref.Fields) != 1 || ref.Fields[0] != "Remaining: 100" {
		t.Errorf("Fields: got %v", ref.Fields)
	}
	if ref.Footer != "hikari · budget" {
		t.Errorf("Footer: got %q", ref.Footer)
	}

	table := msgEvent("@hikari:example.org", &event.MessageEventContent{MsgType: event.MsgText, Body: "x", Format: event.FormatHTML, FormattedBody: "<TABLE><tr><td>x</td></tr></TABLE>"})
	if !toReference(table).HasComponents {
		t.Error("HTML table should count as components")
	}

	file := msgEvent("@hikari:example.org", &event.MessageEventContent{MsgType: event.MsgFile, Body: "report.pdf"})
	if !toReference(file).HasAttachments {
		t.Error("file should count as attachment")
	}

	sticker := &event.Event{ID: "$s", Sender: "@hikari:example.org", Type: event.EventSticker}
	if !toReference(sticker).HasComponents {
		t.Error("non-message content should count as components")
	}
}

func TestStripReplyFallback(t *testing.T) {
	tests := []struct{ in, want string }{
		{"no quote", "no quote"},
		{"> <@a:b> q\n\nanswer", "answer"},
		{"> only quote", ""},
	}
	for _, tt := range tests {
		if got := stripReplyFallback(tt.in); got != tt.want {
			t.Errorf("stripReplyFallback(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
