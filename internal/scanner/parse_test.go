package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCardID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantOK  bool
	}{
		{"rfid object", `{"rfid":"9AFD4B56"}`, "9AFD4B56", true},
		{"rfid padded", `{"rfid":"  9AFD4B56 "}`, "9AFD4B56", true},
		{"numeric rfid", `{"rfid":12345}`, "12345", true},
		{"cardId alias", `{"cardId":"5B612450"}`, "5B612450", true},
		{"card_id alias", `{"card_id":"5B612450"}`, "5B612450", true},
		{"rfid wins over message", `{"rfid":"A","message":"B"}`, "A", true},
		{"empty rfid falls to message", `{"rfid":"","message":"2AC540BD"}`, "2AC540BD", true},
		{"message object", `{"message":"2AC540BD"}`, "2AC540BD", true},
		{"non-string message", `{"message":42}`, "", false},
		{"bare json string", `"ZZZZZZZZ"`, "ZZZZZZZZ", true},
		{"raw text", `9AFD4B56`, "9AFD4B56", true},
		{"raw text with newline", "9AFD4B56\n", "9AFD4B56", true},
		{"broken json taken literally", `{"rfid":`, `{"rfid":`, true},
		{"trailing garbage taken literally", `"A" B`, `"A" B`, true},
		{"unrelated object", `{"status":"ok"}`, "", false},
		{"json number", `12345`, "", false},
		{"json array", `["9AFD4B56"]`, "", false},
		{"json null", `null`, "", false},
		{"empty payload", ``, "", false},
		{"blank string", `"   "`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCardID([]byte(tt.payload))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
