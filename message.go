// Package polybus is an embeddable message-bus library. Application code
// registers message types, attaches ordered pipelines of middleware that
// transform or observe messages, and dispatches messages through a
// pluggable transport. A wire-compatible envelope format lets peers in
// different languages interoperate.
package polybus

import (
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes commands (targeted at a single owning endpoint) from
// events (broadcast to subscribers).
type Kind string

const (
	KindCommand Kind = "command"
	KindEvent   Kind = "event"
)

// MessageInfo is the structured message-type identifier carried on the
// wire. Equality and registry lookups use (Kind, Endpoint, Name, Major)
// only: Minor and Patch are compatibility metadata that never affect
// lookup.
type MessageInfo struct {
	Kind     Kind
	Endpoint string
	Name     string
	Major    int
	Minor    int
	Patch    int
}

// InfoKey is the lookup identity of a MessageInfo: Kind, Endpoint, Name
// and Major, with Minor/Patch deliberately excluded.
type InfoKey struct {
	Kind     Kind
	Endpoint string
	Name     string
	Major    int
}

// Key returns the lookup identity of the info.
func (i MessageInfo) Key() InfoKey {
	return InfoKey{Kind: i.Kind, Endpoint: i.Endpoint, Name: i.Name, Major: i.Major}
}

// Equals reports whether two infos share the same lookup identity.
func (i MessageInfo) Equals(other MessageInfo) bool {
	return i.Key() == other.Key()
}

// SubscriptionKey is the identity a subscriber filters on: Kind, Endpoint
// and Name, with Major (and Minor/Patch) excluded entirely. Unlike InfoKey,
// which the registry uses to resolve a major-compatible type, subscription
// matching is fully version-agnostic per the broker's routing contract — a
// subscriber registered against one major version still receives every
// other major version of the same event.
type SubscriptionKey struct {
	Kind     Kind
	Endpoint string
	Name     string
}

// SubscriptionKey returns the version-agnostic identity subscribers match
// on.
func (i MessageInfo) SubscriptionKey() SubscriptionKey {
	return SubscriptionKey{Kind: i.Kind, Endpoint: i.Endpoint, Name: i.Name}
}

// String returns the canonical with-version form, equivalent to
// ToString(true).
func (i MessageInfo) String() string {
	return i.ToString(true)
}

// ToString renders the canonical header form:
//
//	endpoint=<endpoint>, type=<kind>, name=<name>[, version=<major>.<minor>.<patch>]
//
// The kind token is always emitted lowercase.
func (i MessageInfo) ToString(withVersion bool) string {
	var b strings.Builder
	b.WriteString("endpoint=")
	b.WriteString(i.Endpoint)
	b.WriteString(", type=")
	b.WriteString(strings.ToLower(string(i.Kind)))
	b.WriteString(", name=")
	b.WriteString(i.Name)
	if withVersion {
		b.WriteString(", version=")
		b.WriteString(strconv.Itoa(i.Major))
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(i.Minor))
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(i.Patch))
	}
	return b.String()
}

// ParseMessageInfo parses the canonical header form produced by
// ToString. It never errors: malformed input yields (zero value, false),
// the "no value" sentinel the registry boundary translates into
// MessageNotFound.
//
// The grammar is strict about where whitespace is tolerated: only around
// the ", " segment separators and around "=". A value containing
// embedded whitespace is rejected, per the strict reading of the
// canonical grammar (an internal whitespace-tolerant parse would make
// "name=foo bar" and "name=foo, name=bar" ambiguous to tell apart).
func ParseMessageInfo(s string) (MessageInfo, bool) {
	segments := strings.Split(s, ",")
	if len(segments) != 3 && len(segments) != 4 {
		return MessageInfo{}, false
	}

	values := make(map[string]string, len(segments))
	order := make([]string, 0, len(segments))
	for _, seg := range segments {
		key, val, ok := splitKV(seg)
		if !ok {
			return MessageInfo{}, false
		}
		if _, exists := values[key]; exists {
			return MessageInfo{}, false
		}
		values[key] = val
		order = append(order, key)
	}

	if order[0] != "endpoint" || order[1] != "type" || order[2] != "name" {
		return MessageInfo{}, false
	}
	if len(order) == 4 && order[3] != "version" {
		return MessageInfo{}, false
	}

	endpoint := values["endpoint"]
	name := values["name"]
	if endpoint == "" || name == "" {
		return MessageInfo{}, false
	}

	var kind Kind
	switch strings.ToLower(values["type"]) {
	case "command":
		kind = KindCommand
	case "event":
		kind = KindEvent
	default:
		return MessageInfo{}, false
	}

	info := MessageInfo{Kind: kind, Endpoint: endpoint, Name: name}

	if versionStr, hasVersion := values["version"]; hasVersion {
		major, minor, patch, ok := parseVersion(versionStr)
		if !ok {
			return MessageInfo{}, false
		}
		info.Major, info.Minor, info.Patch = major, minor, patch
	}

	return info, true
}

// splitKV splits one "key=value" segment, trimming whitespace around the
// separator and around the segment itself, and rejects values that
// contain embedded whitespace.
func splitKV(segment string) (key, value string, ok bool) {
	segment = strings.TrimSpace(segment)
	eq := strings.IndexByte(segment, '=')
	if eq < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(segment[:eq])
	value = strings.TrimSpace(segment[eq+1:])
	if key == "" || value == "" {
		return "", "", false
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return "", "", false
	}
	return key, value, true
}

func parseVersion(s string) (major, minor, patch int, ok bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], true
}

// TypeHeader is the wire key carrying the MessageInfo canonical form.
const TypeHeader = "x-type"

// ContentTypeHeader is the wire key carrying the body's content type.
const ContentTypeHeader = "content-type"

// Headers is a case-sensitive, last-write-wins header map.
type Headers map[string]string

// Clone returns a deep copy of the header map.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// message is the shared base of Incoming/OutgoingMessage: an owning bus
// reference plus a header map.
type message struct {
	bus     *Bus
	Headers Headers
}

func newMessage(bus *Bus) message {
	return message{bus: bus, Headers: make(Headers)}
}

// Bus returns the owning bus.
func (m *message) Bus() *Bus { return m.bus }

// IncomingMessage is constructed by the transport when it receives data,
// mutated only by the incoming pipeline, and destroyed when the
// transaction completes.
type IncomingMessage struct {
	message

	Info Info
	// Body is the raw, opaque payload as received from the transport.
	Body []byte
	// Message is the deserialized payload. It is initially equal to Body
	// (as a []byte) and reassigned by a deserializing middleware (see
	// serializer.Deserialize) once the wire body has been decoded.
	Message any
	// UserType, once resolved via the registry, is the concrete Go type
	// the payload was decoded into.
	UserType any
}

// Info is an alias kept for readability at call sites that read like
// "the message's info".
type Info = MessageInfo

// NewIncomingMessage constructs an IncomingMessage as a transport would
// upon receipt.
func NewIncomingMessage(bus *Bus, info Info, body []byte) *IncomingMessage {
	m := &IncomingMessage{message: newMessage(bus), Info: info, Body: body}
	m.Message = body
	return m
}

// OutgoingMessage is constructed by Transaction.Add, mutated by the
// outgoing pipeline, and consumed by the transport.
type OutgoingMessage struct {
	message

	// Payload is the typed value supplied by the caller.
	Payload any
	// Info is derived from Payload's registered type unless the caller
	// supplies one explicitly.
	Info Info
	// Body is populated by a serializing middleware.
	Body []byte
	// Endpoint, if set, overrides the routing target; otherwise routing
	// falls back to Info.Endpoint / subscription matching.
	Endpoint string
	// DeliverAt, if set and in the future, schedules delayed delivery.
	DeliverAt time.Time
}

func newOutgoingMessage(bus *Bus, payload any, info Info) *OutgoingMessage {
	return &OutgoingMessage{message: newMessage(bus), Payload: payload, Info: info}
}

// IsDelayed reports whether DeliverAt is set and still in the future.
func (m *OutgoingMessage) IsDelayed(now time.Time) bool {
	return !m.DeliverAt.IsZero() && m.DeliverAt.After(now)
}
