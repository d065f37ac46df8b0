package tunnel

import (
	"encoding/json"
	"net"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestClientMessageEncoding(t *testing.T) {
	port := uint16(0)
	data, err := json.Marshal(clientMessage{Hello: &port})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"Hello":0}` {
		t.Errorf("Hello encoding = %s", data)
	}

	answer := "deadbeef"
	data, err = json.Marshal(clientMessage{Authenticate: &answer})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"Authenticate":"deadbeef"}` {
		t.Errorf("Authenticate encoding = %s", data)
	}

	id := uuid.MustParse("01234567-89ab-cdef-0123-456789abcdef")
	data, err = json.Marshal(clientMessage{Accept: &id})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"Accept":"01234567-89ab-cdef-0123-456789abcdef"}` {
		t.Errorf("Accept encoding = %s", data)
	}
}

func TestServerMessageDecoding(t *testing.T) {
	var msg serverMessage
	if err := json.Unmarshal([]byte(`"Heartbeat"`), &msg); err != nil {
		t.Fatal(err)
	}
	if !msg.Heartbeat {
		t.Error("Heartbeat not decoded")
	}

	msg = serverMessage{}
	if err := json.Unmarshal([]byte(`{"Hello":42000}`), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Hello == nil || *msg.Hello != 42000 {
		t.Errorf("Hello = %v", msg.Hello)
	}

	msg = serverMessage{}
	raw := `{"Challenge":"01234567-89ab-cdef-0123-456789abcdef"}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Challenge == nil || msg.Challenge.String() != "01234567-89ab-cdef-0123-456789abcdef" {
		t.Errorf("Challenge = %v", msg.Challenge)
	}

	msg = serverMessage{}
	if err := json.Unmarshal([]byte(`{"Error":"port in use"}`), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Error == nil || *msg.Error != "port in use" {
		t.Errorf("Error = %v", msg.Error)
	}

	if err := json.Unmarshal([]byte(`{"Bogus":1}`), &serverMessage{}); err == nil {
		t.Error("unknown tag should fail")
	}
}

func TestAuthenticatorAnswerDeterministic(t *testing.T) {
	a := newAuthenticator("secret")
	b := newAuthenticator("secret")
	challenge := uuid.New()

	tagA := a.answer(challenge)
	tagB := b.answer(challenge)
	if tagA != tagB {
		t.Error("same secret should yield the same answer")
	}
	if len(tagA) != 64 {
		t.Errorf("answer length = %d, want 64 hex chars", len(tagA))
	}
	if !a.validate(challenge, tagB) {
		t.Error("validate should accept a correct tag")
	}

	other := newAuthenticator("different")
	if a.validate(challenge, other.answer(challenge)) {
		t.Error("validate should reject a tag from another secret")
	}
	if a.validate(uuid.New(), tagA) {
		t.Error("validate should reject a tag for another challenge")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sender := newStream(a)
	receiver := newStream(b)

	go func() {
		port := uint16(0)
		sender.send(clientMessage{Hello: &port})
	}()

	data, err := receiver.reader.ReadBytes(frameDelimiter)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `{"Hello":0}`) {
		t.Errorf("frame = %q", data)
	}
	if data[len(data)-1] != frameDelimiter {
		t.Error("frame not null-delimited")
	}
}

func TestStreamRejectsOversizedFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	long := strings.Repeat("x", maxFrameLength+1)
	if err := newStream(a).send(clientMessage{Authenticate: &long}); err == nil {
		t.Error("oversized frame should be rejected")
	}
}
