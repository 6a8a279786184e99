package matrix

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hikari/internal/hikari/gate"
)

// FetchReference loads the event a reply points at.
func (c *Client) FetchReference(ctx context.Context, roomID, eventID string) (*gate.Reference, error) {
	evt, err := c.client.GetEvent(ctx, id.RoomID(roomID), id.EventID(eventID))
	if err != nil {
		return nil, fmt.Errorf("matrix: get event %s: %w", eventID, err)
	}
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			return nil, fmt.Errorf("matrix: parse event %s: %w", eventID, err)
		}
	}
	return toReference(evt), nil
}

// SendReply sends a conversational reply to replyTo and returns its event ID.
func (c *Client) SendReply(ctx context.Context, roomID, replyTo, text string) (string, error) {
	content := event.MessageEventContent{
		MsgType:   event.MsgText,
		Body:      text,
		RelatesTo: replyRelation(replyTo),
	}
	return c.send(ctx, roomID, &content, "reply")
}

// SendNotice sends a notice, used for failures and limits.
func (c *Client) SendNotice(ctx context.Context, roomID, text string) (string, error) {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	return c.send(ctx, roomID, &content, "notice")
}

// SendCommandResponse sends a notice replying to replyTo, tagged with the
// command marker and a command footer.
func (c *Client) SendCommandResponse(ctx context.Context, roomID, replyTo, command, text string) (string, error) {
	mc := event.MessageEventContent{
		MsgType:   event.MsgNotice,
		Body:      text + "\n\n" + gate.CommandFooterPrefix + " " + command,
		RelatesTo: replyRelation(replyTo),
	}
	content := &event.Content{
		Parsed: &mc,
		Raw:    map[string]any{CommandMarkerKey: command},
	}
	return c.send(ctx, roomID, content, "command response")
}

// SetTyping toggles the typing indicator.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, typingTimeout); err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, roomID string, content any, what string) (string, error) {
	resp, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("matrix: send %s: %w", what, err)
	}
	return resp.EventID.String(), nil
}

func replyRelation(eventID string) *event.RelatesTo {
	if eventID == "" {
		return nil
	}
	return &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)}}
}
