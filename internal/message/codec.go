package message

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes content as a protobuf-wire message: one length-delimited
// field per element, numbered by its ElementKind, in order.
func Marshal(elems []Element) []byte {
	var b []byte
	for _, e := range elems {
		b = protowire.AppendTag(b, protowire.Number(e.Kind()), protowire.BytesType)
		b = protowire.AppendBytes(b, marshalElement(e))
	}
	return b
}

func marshalElement(e Element) []byte {
	var b []byte
	switch v := e.(type) {
	case Text:
		b = appendString(b, 1, v.Content)
	case At:
		b = appendInt(b, 1, v.Target)
		b = appendString(b, 2, v.Display)
	case Face:
		b = appendInt(b, 1, int64(v.ID))
		b = appendString(b, 2, v.Name)
	case Image:
		b = appendString(b, 1, v.File)
		b = appendString(b, 2, v.URL)
		b = appendInt(b, 3, int64(v.Width))
		b = appendInt(b, 4, int64(v.Height))
	case Audio:
		b = appendString(b, 1, v.File)
		b = appendString(b, 2, v.URL)
		b = appendInt(b, 3, int64(v.Duration))
	case File:
		b = appendString(b, 1, v.Name)
		b = appendInt(b, 2, v.Size)
		b = appendString(b, 3, v.URL)
	case Quote:
		b = appendInt(b, 1, int64(v.Target))
		b = appendInt(b, 2, v.Sender)
		b = appendInt(b, 3, v.Time)
		if len(v.Elements) > 0 {
			b = protowire.AppendTag(b, 4, protowire.BytesType)
			b = protowire.AppendBytes(b, Marshal(v.Elements))
		}
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// Unmarshal decodes content produced by Marshal. Unknown element kinds and
// unknown fields are skipped so older readers tolerate newer writers.
func Unmarshal(b []byte) ([]Element, error) {
	var elems []Element
	err := walk(b, func(num protowire.Number, raw []byte, _ int64) error {
		if raw == nil {
			return nil
		}
		e, err := unmarshalElement(ElementKind(num), raw)
		if err != nil {
			return fmt.Errorf("element %d: %w", num, err)
		}
		if e != nil {
			elems = append(elems, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return elems, nil
}

func unmarshalElement(kind ElementKind, b []byte) (Element, error) {
	switch kind {
	case KindText:
		v := &Text{}
		err := walk(b, func(num protowire.Number, raw []byte, _ int64) error {
			if num == 1 {
				v.Content = string(raw)
			}
			return nil
		})
		return *v, err
	case KindAt:
		v := &At{}
		err := walk(b, func(num protowire.Number, raw []byte, n int64) error {
			switch num {
			case 1:
				v.Target = n
			case 2:
				v.Display = string(raw)
			}
			return nil
		})
		return *v, err
	case KindFace:
		v := &Face{}
		err := walk(b, func(num protowire.Number, raw []byte, n int64) error {
			switch num {
			case 1:
				v.ID = int32(n)
			case 2:
				v.Name = string(raw)
			}
			return nil
		})
		return *v, err
	case KindImage:
		v := &Image{}
		err := walk(b, func(num protowire.Number, raw []byte, n int64) error {
			switch num {
			case 1:
				v.File = string(raw)
			case 2:
				v.URL = string(raw)
			case 3:
				v.Width = int32(n)
			case 4:
				v.Height = int32(n)
			}
			return nil
		})
		return *v, err
	case KindAudio:
		v := &Audio{}
		err := walk(b, func(num protowire.Number, raw []byte, n int64) error {
			switch num {
			case 1:
				v.File = string(raw)
			case 2:
				v.URL = string(raw)
			case 3:
				v.Duration = int32(n)
			}
			return nil
		})
		return *v, err
	case KindFile:
		v := &File{}
		err := walk(b, func(num protowire.Number, raw []byte, n int64) error {
			switch num {
			case 1:
				v.Name = string(raw)
			case 2:
				v.Size = n
			case 3:
				v.URL = string(raw)
			}
			return nil
		})
		return *v, err
	case KindQuote:
		v := &Quote{}
		err := walk(b, func(num protowire.Number, raw []byte, n int64) error {
			switch num {
			case 1:
				v.Target = ID(n)
			case 2:
				v.Sender = n
			case 3:
				v.Time = n
			case 4:
				inner, err := Unmarshal(raw)
				if err != nil {
					return err
				}
				v.Elements = inner
			}
			return nil
		})
		return *v, err
	}
	return nil, nil
}

// walk iterates the fields of a wire message. Length-delimited fields are
// passed as raw bytes, varints as zigzag-decoded integers; other wire types
// are skipped.
func walk(b []byte, fn func(num protowire.Number, raw []byte, n int64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, nil, protowire.DecodeZigZag(v)); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if v == nil {
				v = []byte{}
			}
			if err := fn(num, v, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
