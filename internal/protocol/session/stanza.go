package session

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const nsStanzas = "urn:ietf:params:xml:ns:xmpp-stanzas"

// StanzaError is the defined condition of an IQ error reply.
type StanzaError struct {
	Type      string
	Condition string
	Text      string
}

func (e StanzaError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("%s (%s): %s", e.Condition, e.Type, e.Text)
	}
	return fmt.Sprintf("%s (%s)", e.Condition, e.Type)
}

// Is lets errors.Is(err, ErrProtocol) match any stanza error.
func (e StanzaError) Is(target error) bool {
	return target == ErrProtocol
}

// parseStanzaError reads the first <error/> child of an IQ payload.
// Unparseable or missing errors yield condition "undefined-condition".
func parseStanzaError(payload []byte) StanzaError {
	out := StanzaError{Condition: "undefined-condition"}
	dec := xml.NewDecoder(bytes.NewReader(payload))
	inError := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if !inError {
				if el.Name.Local == "error" {
					inError = true
					for _, attr := range el.Attr {
						if attr.Name.Local == "type" {
							out.Type = attr.Value
						}
					}
					continue
				}
				if err := dec.Skip(); err != nil {
					return out
				}
				continue
			}
			if el.Name.Space != nsStanzas {
				_ = dec.Skip()
				continue
			}
			if el.Name.Local == "text" {
				var text string
				if err := dec.DecodeElement(&text, &el); err == nil {
					out.Text = strings.TrimSpace(text)
				}
				continue
			}
			out.Condition = el.Name.Local
			_ = dec.Skip()
		case xml.EndElement:
			if inError && el.Name.Local == "error" {
				return out
			}
		}
	}
}
