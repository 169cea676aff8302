// Package vcard parses the XEP-0054 vcard-temp document carried in IQ
// replies and extracts the photo fields. The schema stays behind Parse and
// ExtractPhoto so callers only ever see Card and Image.
package vcard

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Namespace is the vcard-temp XML namespace.
const Namespace = "vcard-temp"

var (
	ErrMalformed = errors.New("vcard: malformed document")
	ErrNoPhoto   = errors.New("vcard: photo type or binval missing")
	ErrDecode    = errors.New("vcard: photo binval is not valid base64")
)

// Photo holds the raw PHOTO sub-elements. Empty strings mean absent.
type Photo struct {
	Type   string
	BinVal string
}

// Card is the parsed vCard for one identifier.
type Card struct {
	Photo *Photo
}

// Image is a decoded photo.
type Image struct {
	ContentType string
	Data        []byte
}

type cardXML struct {
	XMLName xml.Name   `xml:"vcard-temp vCard"`
	Photos  []photoXML `xml:"vcard-temp PHOTO"`
}

type photoXML struct {
	Type   string `xml:"vcard-temp TYPE"`
	BinVal string `xml:"vcard-temp BINVAL"`
}

// Parse reads the first vcard-temp vCard element found in payload. A payload
// with no vCard element (an empty IQ result) is an empty Card.
func Parse(payload []byte) (Card, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return Card{}, nil
		}
		if err != nil {
			return Card{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Space != Namespace || start.Name.Local != "vCard" {
			if err := dec.Skip(); err != nil {
				return Card{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			continue
		}
		var raw cardXML
		if err := dec.DecodeElement(&raw, &start); err != nil {
			return Card{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return raw.card(), nil
	}
}

func (c cardXML) card() Card {
	if len(c.Photos) == 0 {
		return Card{}
	}
	p := c.Photos[0]
	return Card{Photo: &Photo{
		Type:   strings.TrimSpace(p.Type),
		BinVal: p.BinVal,
	}}
}

// ExtractPhoto returns the declared content type and base64 payload, or
// ErrNoPhoto when the card has no photo or either field is empty.
func ExtractPhoto(card Card) (string, string, error) {
	if card.Photo == nil {
		return "", "", ErrNoPhoto
	}
	contentType := strings.TrimSpace(card.Photo.Type)
	payload := stripSpace(card.Photo.BinVal)
	if contentType == "" || payload == "" {
		return "", "", ErrNoPhoto
	}
	return contentType, payload, nil
}

// DecodePhoto extracts and base64-decodes the card photo. The declared
// content type is returned as-is and never checked against the bytes.
func DecodePhoto(card Card) (Image, error) {
	contentType, payload, err := ExtractPhoto(card)
	if err != nil {
		return Image{}, err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Image{ContentType: contentType, Data: data}, nil
}

// BINVAL is commonly folded across lines.
func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
