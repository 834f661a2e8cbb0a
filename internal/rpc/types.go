package rpc

import (
	"encoding/json"

	"github.com/matheus3301/roam/internal/message"
)

// StreamRef names a conversation stream on the wire.
type StreamRef struct {
	Account        int64  `json:"account"`
	ContactKind    string `json:"contact_kind"`
	ContactSubject int64  `json:"contact_subject"`
}

// NewStreamRef converts a stream to its wire form.
func NewStreamRef(s message.Stream) StreamRef {
	return StreamRef{
		Account:        s.Account,
		ContactKind:    s.Contact.Kind.String(),
		ContactSubject: s.Contact.Subject,
	}
}

// Stream parses the wire form back into a stream.
func (r StreamRef) Stream() (message.Stream, error) {
	kind, err := message.ParseContactKind(r.ContactKind)
	if err != nil {
		return message.Stream{}, err
	}
	return message.Stream{
		Account: r.Account,
		Contact: message.Contact{Kind: kind, Subject: r.ContactSubject},
	}, nil
}

// Message is a history message on the wire. Content is the encoded
// element list; the remote feed leaves ID unset.
type Message struct {
	ID         int64  `json:"id,omitempty,string"`
	Sequence   int32  `json:"sequence"`
	Sender     int64  `json:"sender"`
	SenderName string `json:"sender_name,omitempty"`
	Time       int64  `json:"time"`
	Content    []byte `json:"content,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// FromRecord converts a stored record to its wire form.
func FromRecord(m *message.Record) Message {
	return Message{
		ID:         int64(m.ID),
		Sequence:   m.Sequence,
		Sender:     m.Sender,
		SenderName: m.SenderName,
		Time:       m.Time,
		Content:    message.Marshal(m.Content),
		Summary:    message.Summary(m.Content),
	}
}

// Record converts a wire message of stream s into a record. Messages
// without an ID get one derived from their origin.
func (m *Message) Record(s message.Stream) (message.Record, error) {
	elems, err := message.Unmarshal(m.Content)
	if err != nil {
		return message.Record{}, err
	}
	id := message.ID(m.ID)
	if id == 0 {
		id = message.NewID(m.Sequence, s, m.Sender, m.Time)
	}
	return message.Record{
		Account:    s.Account,
		Contact:    s.Contact,
		Sender:     m.Sender,
		SenderName: m.SenderName,
		ID:         id,
		Sequence:   m.Sequence,
		Time:       m.Time,
		Content:    elems,
	}, nil
}

// Paging

type OpenViewRequest struct{}

type OpenViewResponse struct {
	ViewID string `json:"view_id"`
}

type ListHistoryRequest struct {
	StreamRef
	ViewID   string `json:"view_id"`
	Cursor   string `json:"cursor,omitempty"` // empty requests the newest page
	PageSize int32  `json:"page_size,omitempty"`
}

type ListHistoryResponse struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
	Source     string    `json:"source"`
}

type CloseViewRequest struct {
	ViewID string `json:"view_id"`
}

type CloseViewResponse struct {
	Closed bool `json:"closed"`
}

// Sync

type GetSyncStatusRequest struct{}

type GetSyncStatusResponse struct {
	Session      string `json:"session"`
	Status       string `json:"status"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
	OpenViews    int32  `json:"open_views"`
	MessageCount int64  `json:"message_count"`
	UptimeMs     int64  `json:"uptime_ms"`
}

type WatchSyncEventsRequest struct{}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	Session          string          `json:"session"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Kind             string          `json:"kind"`
	PayloadVersion   int32           `json:"payload_version"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// Roaming

type HeadSequenceRequest struct {
	StreamRef
}

type HeadSequenceResponse struct {
	Sequence  int32 `json:"sequence"`
	Available bool  `json:"available"`
}

type FetchBeforeRequest struct {
	StreamRef
	AnchorSequence int32 `json:"anchor_sequence"`
	Count          int32 `json:"count"`
	Exclusive      bool  `json:"exclusive"`
}

type FetchBeforeResponse struct {
	Messages []Message `json:"messages"`
}
