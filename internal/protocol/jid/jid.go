// Package jid validates the identifiers accepted by the avatar route.
package jid

import (
	"errors"
	"fmt"
	"strings"

	"mellium.im/xmpp/jid"
)

var ErrInvalid = errors.New("jid: invalid identifier")

// JID is a parsed, immutable XMPP address.
type JID struct {
	addr jid.JID
}

// Parse validates raw as an XMPP address. Empty input, addresses without a
// domain, and anything the RFC 7622 profile rejects fail with ErrInvalid.
func Parse(raw string) (JID, error) {
	if strings.TrimSpace(raw) == "" {
		return JID{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	if raw != strings.TrimSpace(raw) {
		return JID{}, fmt.Errorf("%w: surrounding whitespace", ErrInvalid)
	}
	addr, err := jid.Parse(raw)
	if err != nil {
		return JID{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if addr.Domainpart() == "" {
		return JID{}, fmt.Errorf("%w: missing domain", ErrInvalid)
	}
	return JID{addr: addr}, nil
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(raw string) JID {
	j, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return j
}

func (j JID) String() string {
	return j.addr.String()
}

func (j JID) Localpart() string {
	return j.addr.Localpart()
}

func (j JID) Domainpart() string {
	return j.addr.Domainpart()
}

func (j JID) Resourcepart() string {
	return j.addr.Resourcepart()
}

// Bare drops the resourcepart.
func (j JID) Bare() JID {
	return JID{addr: j.addr.Bare()}
}

func (j JID) IsZero() bool {
	return j.addr.Domainpart() == ""
}
