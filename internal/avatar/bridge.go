package avatar

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/avatarsvc/internal/observability"
	"github.com/danmuck/avatarsvc/internal/protocol/jid"
	"github.com/danmuck/avatarsvc/internal/protocol/session"
	"github.com/danmuck/avatarsvc/internal/protocol/vcard"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	notFoundBody        = "Not found"
	notFoundContentType = "text/plain; charset=utf-8"
)

// CardFetcher is the upstream Bridge depends on; *session.Manager in
// production.
type CardFetcher interface {
	FetchCard(ctx context.Context, id jid.JID) (vcard.Card, error)
}

var _ CardFetcher = (*session.Manager)(nil)

// Response is the HTTP reply for one avatar request.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

func notFound() Response {
	return Response{Status: http.StatusNotFound, ContentType: notFoundContentType, Body: []byte(notFoundBody)}
}

func placeholder() Response {
	return Response{Status: http.StatusNotFound, ContentType: PlaceholderContentType, Body: []byte(PlaceholderSVG)}
}

// Bridge turns one avatar request into one upstream vCard fetch.
type Bridge struct {
	fetcher CardFetcher
}

func NewBridge(fetcher CardFetcher) *Bridge {
	return &Bridge{fetcher: fetcher}
}

// Handle resolves the avatar for the raw path remainder. Every failure maps
// to a 404: bare "Not found" when no card could be fetched, and the
// placeholder image when the card has no usable photo.
func (b *Bridge) Handle(ctx context.Context, raw string) Response {
	id, err := parseIdentifier(raw)
	if err != nil {
		observability.RecordAvatarFetch(observability.OutcomeInvalidIdentifier, 0)
		log.Debug().Str("component", "avatar").Str("raw", raw).Err(err).Msg("rejected identifier")
		return notFound()
	}

	start := time.Now()
	card, err := b.fetcher.FetchCard(ctx, id)
	elapsed := time.Since(start)
	if err != nil {
		outcome := fetchOutcome(err)
		observability.RecordAvatarFetch(outcome, elapsed)
		log.Warn().
			Str("component", "avatar").
			Str("jid", id.String()).
			Str("kind", outcome).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("vcard fetch failed")
		return notFound()
	}

	img, err := vcard.DecodePhoto(card)
	switch {
	case err == nil:
		observability.RecordAvatarFetch(observability.OutcomeServed, elapsed)
		return Response{Status: http.StatusOK, ContentType: img.ContentType, Body: img.Data}
	case errors.Is(err, vcard.ErrDecode):
		observability.RecordAvatarFetch(observability.OutcomeDecodeError, elapsed)
		log.Warn().Str("component", "avatar").Str("jid", id.String()).Err(err).Msg("photo decode failed")
		return placeholder()
	default:
		observability.RecordAvatarFetch(observability.OutcomePlaceholder, elapsed)
		log.Debug().Str("component", "avatar").Str("jid", id.String()).Msg("card has no photo")
		return placeholder()
	}
}

// ServeAvatar is the gin handler for the avatar route; the identifier is the
// catch-all "jid" parameter.
func (b *Bridge) ServeAvatar(c *gin.Context) {
	raw := strings.TrimPrefix(c.Param("jid"), "/")
	res := b.Handle(c.Request.Context(), raw)
	c.Data(res.Status, res.ContentType, res.Body)
}

// parseIdentifier rejects a remainder that spans more than one path segment.
func parseIdentifier(raw string) (jid.JID, error) {
	if strings.Contains(raw, "/") {
		return jid.JID{}, jid.ErrInvalid
	}
	return jid.Parse(raw)
}

func fetchOutcome(err error) string {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return observability.OutcomeNotConnected
	case errors.Is(err, session.ErrTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, session.ErrProtocol):
		return observability.OutcomeProtocolError
	default:
		return observability.OutcomeError
	}
}
