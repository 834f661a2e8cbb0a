package message

import "strings"

// ElementKind tags the variants of Element. The numeric values double as
// wire field numbers in the content encoding and must not be reused.
type ElementKind uint8

const (
	KindText  ElementKind = 1
	KindAt    ElementKind = 2
	KindFace  ElementKind = 3
	KindImage ElementKind = 4
	KindAudio ElementKind = 5
	KindFile  ElementKind = 6
	KindQuote ElementKind = 7
)

// Element is one piece of message content. The set of variants is closed:
// only the types in this package implement it.
type Element interface {
	Kind() ElementKind
	sealed()
}

// Text is plain text.
type Text struct {
	Content string
}

// At mentions a member of the conversation.
type At struct {
	Target  int64
	Display string
}

// Face is a built-in emoticon.
type Face struct {
	ID   int32
	Name string
}

// Image references an uploaded picture.
type Image struct {
	File   string
	URL    string
	Width  int32
	Height int32
}

// Audio references a voice message.
type Audio struct {
	File     string
	URL      string
	Duration int32 // seconds
}

// File references a shared file.
type File struct {
	Name string
	Size int64
	URL  string
}

// Quote is a reply to an earlier message in the same stream.
type Quote struct {
	Target   ID
	Sender   int64
	Time     int64
	Elements []Element
}

func (Text) Kind() ElementKind  { return KindText }
func (At) Kind() ElementKind    { return KindAt }
func (Face) Kind() ElementKind  { return KindFace }
func (Image) Kind() ElementKind { return KindImage }
func (Audio) Kind() ElementKind { return KindAudio }
func (File) Kind() ElementKind  { return KindFile }
func (Quote) Kind() ElementKind { return KindQuote }

func (Text) sealed()  {}
func (At) sealed()    {}
func (Face) sealed()  {}
func (Image) sealed() {}
func (Audio) sealed() {}
func (File) sealed()  {}
func (Quote) sealed() {}

// Summary renders content as a single line of text for previews and logs.
func Summary(elems []Element) string {
	var sb strings.Builder
	for _, e := range elems {
		switch v := e.(type) {
		case Text:
			sb.WriteString(v.Content)
		case At:
			sb.WriteString("@" + v.Display)
		case Face:
			sb.WriteString("[face:" + v.Name + "]")
		case Image:
			sb.WriteString("[image]")
		case Audio:
			sb.WriteString("[audio]")
		case File:
			sb.WriteString("[file:" + v.Name + "]")
		case Quote:
			sb.WriteString("[reply] ")
		}
	}
	return sb.String()
}
