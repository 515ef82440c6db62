// Package webhook turns UAZAPI-style WhatsApp webhook bodies into
// domain.InboundEvent values.
package webhook

import (
	"encoding/json"
	"strings"

	"realty-bot/internal/domain"
)

const groupMarker = "@g.us"

// MaxBodyBytes caps accepted webhook bodies on every transport.
const MaxBodyBytes = 1 << 20

// receivedKinds lists the event kinds that carry an inbound message. Other
// kinds (receipts, presence, connection updates) are acknowledged and dropped.
var receivedKinds = map[string]bool{
	"ReceivedCallback": true,
	"message":          true,
	"messages.upsert":  true,
}

// Normalize decodes body and extracts the inbound message event. The boolean
// is false when the body is not an inbound message the bot can act on:
// undecodable JSON, unknown event kind, messages sent by the connected account
// itself, a missing sender, or a message with neither text nor audio.
func Normalize(body []byte) (domain.InboundEvent, bool) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil || root == nil {
		return domain.InboundEvent{}, false
	}

	kind := str(root, "type")
	if kind == "" {
		kind = str(root, "event")
	}
	if !receivedKinds[kind] {
		return domain.InboundEvent{}, false
	}

	data := obj(root, "data")
	if data == nil {
		data = root
	}
	key := obj(data, "key")
	if fromMe, _ := key["fromMe"].(bool); fromMe {
		return domain.InboundEvent{}, false
	}

	rawSender := firstNonEmpty(str(data, "phone"), str(data, "from"), str(key, "remoteJid"))
	phone := stripSuffix(rawSender)
	if phone == "" {
		return domain.InboundEvent{}, false
	}

	message := obj(data, "message")
	text := firstNonEmpty(
		str(data, "text"),
		str(data, "body"),
		str(message, "conversation"),
		str(obj(message, "extendedTextMessage"), "text"),
	)

	_, hasAudioBlock := message["audioMessage"]
	isAudio := str(data, "type") == "audio" ||
		hasAudioBlock ||
		str(data, "messageType") == "audioMessage"

	if text == "" && !isAudio {
		return domain.InboundEvent{}, false
	}

	ev := domain.InboundEvent{
		Phone:       phone,
		Destination: destination(root, data),
		Text:        text,
		IsAudio:     isAudio,
		Raw:         json.RawMessage(body),
	}
	if isAudio {
		ev.AudioURL = firstNonEmpty(
			str(data, "audio"),
			str(data, "mediaUrl"),
			str(obj(message, "audioMessage"), "url"),
		)
	}
	if strings.Contains(rawSender, groupMarker) {
		ev.IsGroup = true
		ev.GroupID = rawSender
	}
	return ev, true
}

// destination finds the account the message was sent to.
func destination(root, data map[string]any) string {
	return stripSuffix(firstNonEmpty(
		str(data, "to"),
		str(data, "instance"),
		str(root, "instance"),
		str(root, "phone_number"),
	))
}

func stripSuffix(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	return strings.TrimSpace(jid)
}

func obj(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

// str returns m[key] when it is a string. Other JSON types read as empty so
// that a shape mismatch falls through to the next candidate field.
func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
