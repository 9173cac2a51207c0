package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnnouncements(t *testing.T) {
	assert.Equal(t, "[alice] connected\n", string(Connected([]byte("alice"))))
	assert.Equal(t, "[bob] disconnected\n", string(Disconnected([]byte("bob"))))
	assert.Equal(t, "Message from [alice]: hi", string(Message([]byte("alice"), []byte("hi"))))
}

func TestMessageKeepsPayloadBytes(t *testing.T) {
	payload := []byte("line one\nline two\x00tail")
	got := Message([]byte("x"), payload)
	assert.Equal(t, "Message from [x]: "+string(payload), string(got))

	// the result must not alias the caller's payload
	payload[0] = 'L'
	assert.Equal(t, byte('l'), got[len("Message from [x]: ")])
}
