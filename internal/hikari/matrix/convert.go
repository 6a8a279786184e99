package matrix

import (
	"regexp"
	"slices"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hikari/internal/hikari/gate"
)

// CommandMarkerKey is an extra content key set on every command response so
// that replies to it can be recognised.
const CommandMarkerKey = "org.hikari.command"

// richTags mark formatted bodies that carry structured output rather than
// conversation.
var richTags = []string{"<table", "<details", "<pre", "<ul", "<ol"}

// fieldLine matches "Key: value" lines typical of status output.
var fieldLine = regexp.MustCompile(`^[A-Z][A-Za-z ]{0,30}: \S`)

// identity describes the companion for message conversion.
type identity struct {
	userID      id.UserID
	displayName string
	bots        map[id.UserID]struct{}
}

func (me identity) isBot(sender id.UserID, mc *event.MessageEventContent) bool {
	if sender == me.userID {
		return true
	}
	if _, ok := me.bots[sender]; ok {
		return true
	}
	return mc.MsgType == event.MsgNotice
}

// mentions reports whether the message addresses the companion explicitly.
func (me identity) mentions(mc *event.MessageEventContent, body string) bool {
	if mc.Mentions != nil && slices.Contains(mc.Mentions.UserIDs, me.userID) {
		return true
	}
	if strings.Contains(body, me.userID.String()) || strings.Contains(mc.FormattedBody, "matrix.to/#/"+me.userID.String()) {
		return true
	}
	if me.displayName == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(body))
	name := strings.ToLower(me.displayName)
	return strings.HasPrefix(lower, name+":") || strings.HasPrefix(lower, name+",") || strings.HasPrefix(lower, "@"+name)
}

// toMessage converts a received m.room.message event. ok is false for
// events the gate never needs to see (edits, non-text content).
func (me identity) toMessage(evt *event.Event, direct bool) (gate.Message, bool) {
	mc := evt.Content.AsMessage()
	if mc == nil {
		return gate.Message{}, false
	}
	switch mc.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
	default:
		return gate.Message{}, false
	}
	if mc.RelatesTo != nil && mc.RelatesTo.Type == event.RelReplace {
		return gate.Message{}, false
	}

	var replyTo id.EventID
	if mc.RelatesTo != nil && mc.RelatesTo.InReplyTo != nil {
		replyTo = mc.RelatesTo.InReplyTo.EventID
	}
	body := mc.Body
	if replyTo != "" {
		body = stripReplyFallback(body)
	}

	return gate.Message{
		ID:                evt.ID.String(),
		AuthorID:          evt.Sender.String(),
		AuthorIsBot:       me.isBot(evt.Sender, mc),
		GroupID:           evt.RoomID.String(),
		Content:           body,
		Direct:            direct,
		MentionsCompanion: me.mentions(mc, body),
		ReplyToID:         replyTo.String(),
	}, true
}

// stripReplyFallback drops the "> <@user> quoted text" block older clients
// prepend to replies.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	return strings.TrimSpace(strings.Join(lines[i:], "\n"))
}

// toReference describes a fetched event for reply-chain classification.
// evt.Content must already be parsed.
func toReference(evt *event.Event) *gate.Reference {
	ref := &gate.Reference{
		ID:       evt.ID.String(),
		AuthorID: evt.Sender.String(),
	}
	if _, ok := evt.Content.Raw[CommandMarkerKey]; ok {
		ref.CommandMarker = true
	}
	mc := evt.Content.AsMessage()
	if mc == nil || mc.MsgType == "" {
		// Stickers, polls and other non-message content are rich by nature.
		ref.HasComponents = true
		return ref
	}
	ref.AuthorIsBot = mc.MsgType == event.MsgNotice

	switch mc.MsgType {
	case event.MsgImage, event.MsgFile, event.MsgVideo, event.MsgAudio:
		ref.HasAttachments = true
	}
	if mc.Format == event.FormatHTML {
		lower := strings.ToLower(mc.FormattedBody)
		for _, tag := range richTags {
			if strings.Contains(lower, tag) {
				ref.HasComponents = true
				break
			}
		}
	}

	lines := strings.Split(strings.TrimSpace(mc.Body), "\n")
	ref.Footer = strings.TrimSpace(lines[len(lines)-1])
	for _, l := range lines {
		if fieldLine.MatchString(strings.TrimSpace(l)) {
			ref.Fields = append(ref.Fields, strings.TrimSpace(l))
		}
	}
	return ref
}
