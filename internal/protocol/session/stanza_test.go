package session

import (
	"errors"
	"testing"

	"github.com/danmuck/avatarsvc/internal/testutil/testlog"
)

func TestParseStanzaError(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`<vCard xmlns='vcard-temp'/>` +
		`<error type='auth'><forbidden xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/>` +
		`<text xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'> blocked </text></error>`)
	got := parseStanzaError(payload)
	if got.Condition != "forbidden" || got.Type != "auth" || got.Text != "blocked" {
		t.Fatalf("unexpected stanza error: %+v", got)
	}
	if got.Error() != "forbidden (auth): blocked" {
		t.Fatalf("unexpected message: %q", got.Error())
	}
	if !errors.Is(got, ErrProtocol) {
		t.Fatalf("expected stanza error to match ErrProtocol")
	}
}

func TestParseStanzaErrorMissing(t *testing.T) {
	testlog.Start(t)
	for _, payload := range []string{"", "<vCard xmlns='vcard-temp'/>", "<error"} {
		got := parseStanzaError([]byte(payload))
		if got.Condition != "undefined-condition" {
			t.Fatalf("payload %q: unexpected condition %q", payload, got.Condition)
		}
	}
}
