package scanner

import (
	"bytes"
	"encoding/json"
	"strings"
)

// cardFields are the object keys a reader may put the card id under.
var cardFields = []string{"rfid", "cardId", "card_id"}

// shapeMatcher extracts a card id from one accepted payload shape.
type shapeMatcher func(v any) (string, bool)

// matchers run in order; the first hit wins.
var matchers = []shapeMatcher{
	matchCardField,
	matchMessageField,
	matchBareString,
}

// ParseCardID extracts a card id from a reader message. Accepted shapes,
// in order: {"rfid": "..."}, {"message": "..."}, a JSON string. A payload
// that is not JSON at all is taken literally. JSON that fits none of the
// shapes is dropped.
func ParseCardID(payload []byte) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		raw := strings.TrimSpace(string(payload))
		return raw, raw != ""
	}

	for _, match := range matchers {
		if id, ok := match(v); ok {
			return id, true
		}
	}
	return "", false
}

func matchCardField(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range cardFields {
		switch id := obj[key].(type) {
		case string:
			if strings.TrimSpace(id) != "" {
				return strings.TrimSpace(id), true
			}
		case json.Number:
			return id.String(), true
		}
	}
	return "", false
}

func matchMessageField(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := obj["message"].(string)
	if !ok || strings.TrimSpace(msg) == "" {
		return "", false
	}
	return strings.TrimSpace(msg), true
}

func matchBareString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}
