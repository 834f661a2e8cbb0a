package message

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ContactKind identifies the kind of conversation a stream belongs to.
type ContactKind uint8

const (
	Friend ContactKind = iota + 1
	Group
	Temporary
)

func (k ContactKind) String() string {
	switch k {
	case Friend:
		return "friend"
	case Group:
		return "group"
	case Temporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// ParseContactKind parses the textual form produced by ContactKind.String.
func ParseContactKind(s string) (ContactKind, error) {
	switch strings.ToLower(s) {
	case "friend":
		return Friend, nil
	case "group":
		return Group, nil
	case "temporary", "temp":
		return Temporary, nil
	}
	return 0, fmt.Errorf("unknown contact kind %q", s)
}

// Contact identifies the remote side of a conversation.
type Contact struct {
	Kind    ContactKind
	Subject int64
}

func (c Contact) String() string {
	return c.Kind.String() + ":" + strconv.FormatInt(c.Subject, 10)
}

// Stream is one conversation as seen by one account. Sequences are only
// meaningful within a stream.
type Stream struct {
	Account int64
	Contact Contact
}

func (s Stream) String() string {
	return strconv.FormatInt(s.Account, 10) + "/" + s.Contact.String()
}

// ID is the synthetic identity of a message: the server sequence in the
// high 32 bits and a stable hash of the message origin in the low 32 bits.
type ID int64

// NewID derives the identity of a message. The same remote message always
// maps to the same ID, however many times it is fetched.
func NewID(seq int32, stream Stream, sender, time int64) ID {
	buf := make([]byte, 0, 33)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(stream.Account))
	buf = append(buf, byte(stream.Contact.Kind))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(stream.Contact.Subject))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(sender))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(time))
	low := uint32(xxhash.Sum64(buf))
	return ID(int64(uint64(uint32(seq))<<32 | uint64(low)))
}

// Sequence returns the server sequence encoded in the ID.
func (id ID) Sequence() int32 {
	return int32(uint64(id) >> 32)
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses the decimal form produced by ID.String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse message id %q: %w", s, err)
	}
	return ID(v), nil
}

// Record is a single history message.
type Record struct {
	Account    int64
	Contact    Contact
	Sender     int64
	SenderName string
	ID         ID
	Sequence   int32
	Time       int64
	Content    []Element
}

// Stream returns the stream the record belongs to.
func (r *Record) Stream() Stream {
	return Stream{Account: r.Account, Contact: r.Contact}
}
