// Package session owns the single long-lived upstream XMPP session.
//
// Ownership boundary:
// - dial/authenticate with retry and backoff
// - reconnect supervision after session loss
// - IQ correlation: one pending fetch per query id, resolved exactly once
//   by reply, stanza error, timeout, or disconnect
// - the go-xmpp transport adapter
package session
