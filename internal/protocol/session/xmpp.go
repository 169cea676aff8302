package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/danmuck/avatarsvc/internal/protocol/jid"
	"github.com/rs/zerolog/log"
	xmpp "github.com/xmppo/go-xmpp"
)

const defaultClientPort = "5222"

var (
	ErrAccountRequired  = errors.New("session: xmpp account jid required")
	ErrPasswordRequired = errors.New("session: xmpp password required")
)

// XMPPConfig configures the go-xmpp backed Dialer.
type XMPPConfig struct {
	// Account is the JID the service logs in as.
	Account  string
	Password string
	// Host is the server address; empty derives <domain>:5222 from Account.
	Host               string
	Resource           string
	NoTLS              bool
	StartTLS           bool
	InsecureSkipVerify bool
	TLS                TLSConfig
	Debug              bool
}

// XMPPDialer dials the upstream server with go-xmpp. Dial returns once the
// stream is authenticated, bound, and the session is established.
type XMPPDialer struct {
	cfg     XMPPConfig
	account jid.JID
	tls     *tls.Config
}

var _ Dialer = (*XMPPDialer)(nil)

func NewXMPPDialer(cfg XMPPConfig) (*XMPPDialer, error) {
	if strings.TrimSpace(cfg.Account) == "" {
		return nil, ErrAccountRequired
	}
	if cfg.Password == "" {
		return nil, ErrPasswordRequired
	}
	account, err := jid.Parse(strings.TrimSpace(cfg.Account))
	if err != nil {
		return nil, fmt.Errorf("session: xmpp account: %w", err)
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = net.JoinHostPort(account.Domainpart(), defaultClientPort)
	}
	if err := cfg.validateTLS(); err != nil {
		return nil, err
	}
	tlsConfig, err := buildTLSConfig(cfg, account.Domainpart())
	if err != nil {
		return nil, err
	}
	return &XMPPDialer{cfg: cfg, account: account, tls: tlsConfig}, nil
}

// Address is the resolved server address.
func (d *XMPPDialer) Address() string {
	return d.cfg.Host
}

func (d *XMPPDialer) Dial(ctx context.Context) (Transport, error) {
	opts := d.options()

	type dialed struct {
		client *xmpp.Client
		err    error
	}
	ch := make(chan dialed, 1)
	go func() {
		client, err := opts.NewClient()
		ch <- dialed{client: client, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		log.Debug().
			Str("component", "session").
			Str("host", d.cfg.Host).
			Str("account", d.account.String()).
			Msg("xmpp stream established")
		return &xmppTransport{client: out.client}, nil
	case <-ctx.Done():
		// go-xmpp has no cancellable dial; close the client if it shows up.
		go func() {
			if out := <-ch; out.client != nil {
				_ = out.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (d *XMPPDialer) options() xmpp.Options {
	return xmpp.Options{
		Host:     d.cfg.Host,
		User:     d.account.Bare().String(),
		Password: d.cfg.Password,
		Resource: strings.TrimSpace(d.cfg.Resource),
		NoTLS:    d.cfg.NoTLS,
		StartTLS: d.cfg.StartTLS,
		Debug:    d.cfg.Debug,
		Session:  true,
		// Each dial gets its own copy.
		TLSConfig: d.tls.Clone(),
	}
}

// xmppTransport adapts a go-xmpp client. go-xmpp answers server pings from
// inside Recv, writing to the stream from the reader goroutine; those writes
// are not serialized with Send, but each is a single Write on the conn and
// the conn serializes concurrent Writes.
type xmppTransport struct {
	client *xmpp.Client
}

func (t *xmppTransport) Send(q Query) error {
	_, err := t.client.SendOrg(encodeVCardQuery(q))
	return err
}

// Recv skips everything that is not an IQ. go-xmpp decodes the <error/>
// child of a type='error' reply into its own struct, so Payload lacks it and
// those replies surface as "undefined-condition" stanza errors.
func (t *xmppTransport) Recv() (Stanza, error) {
	for {
		stanza, err := t.client.Recv()
		if err != nil {
			return Stanza{}, err
		}
		iq, ok := stanza.(xmpp.IQ)
		if !ok {
			continue
		}
		return Stanza{
			ID:      iq.ID,
			From:    iq.From,
			Type:    iq.Type,
			Payload: iq.Query,
		}, nil
	}
}

func (t *xmppTransport) Close() error {
	return t.client.Close()
}

// encodeVCardQuery renders the XEP-0054 retrieval IQ.
func encodeVCardQuery(q Query) string {
	var buf bytes.Buffer
	buf.WriteString("<iq type='get' to='")
	_ = xml.EscapeText(&buf, []byte(q.To))
	buf.WriteString("' id='")
	_ = xml.EscapeText(&buf, []byte(q.ID))
	buf.WriteString("'><vCard xmlns='vcard-temp'/></iq>")
	return buf.String()
}
