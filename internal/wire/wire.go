// MIT License
//
// Copyright (c) 2024-2026 Kestrel Works
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package wire implements the field-numbered binary record layout shared by
// all durable records. Records follow protobuf wire semantics: fields are
// tagged with a number and wire type, zero values are omitted, unknown field
// numbers are skipped so that records written by newer versions remain
// readable, and retired field numbers stay reserved forever.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTruncated is returned when a record ends in the middle of a field.
var ErrTruncated = errors.New("wire: truncated record")

// AppendBytes appends a length-delimited field. Empty values are omitted.
func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// AppendString appends a length-delimited string field. Empty strings are omitted.
func AppendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// AppendUint64 appends a varint field. Zero values are omitted.
func AppendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendUint32 appends a varint field. Zero values are omitted.
func AppendUint32(b []byte, num protowire.Number, v uint32) []byte {
	return AppendUint64(b, num, uint64(v))
}

// AppendBool appends a varint field holding 0 or 1. False is omitted.
func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

// AppendMessage appends an embedded message as a length-delimited field.
// Unlike AppendBytes, empty messages are still written so that the presence
// of the field itself carries meaning (e.g. a variant discriminant).
func AppendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// Decoder iterates the fields of a single record. Callers drive it with
// Next and consume the current field with one of the typed readers, or
// Skip it when the field number is unknown.
type Decoder struct {
	buf []byte
	num protowire.Number
	typ protowire.Type
}

// NewDecoder creates a Decoder over the given record bytes.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Done reports whether the record has been fully consumed.
func (d *Decoder) Done() bool {
	return len(d.buf) == 0
}

// Next reads the next field tag and returns its field number.
func (d *Decoder) Next() (protowire.Number, error) {
	num, typ, n := protowire.ConsumeTag(d.buf)
	if n < 0 {
		return 0, fmt.Errorf("wire: reading tag: %w", protowire.ParseError(n))
	}
	d.buf = d.buf[n:]
	d.num = num
	d.typ = typ
	return num, nil
}

// Skip discards the current field value. Unknown fields are skipped, never
// rejected, to keep old readers compatible with newer record layouts.
func (d *Decoder) Skip() error {
	n := protowire.ConsumeFieldValue(d.num, d.typ, d.buf)
	if n < 0 {
		return fmt.Errorf("wire: skipping field %d: %w", d.num, protowire.ParseError(n))
	}
	d.buf = d.buf[n:]
	return nil
}

// Bytes consumes the current length-delimited field. The returned slice
// aliases the record buffer.
func (d *Decoder) Bytes() ([]byte, error) {
	if d.typ != protowire.BytesType {
		return nil, fmt.Errorf("wire: field %d: expected bytes, got wire type %d", d.num, d.typ)
	}
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		return nil, fmt.Errorf("wire: field %d: %w", d.num, protowire.ParseError(n))
	}
	d.buf = d.buf[n:]
	return v, nil
}

// String consumes the current length-delimited field as a string.
func (d *Decoder) String() (string, error) {
	v, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Uint64 consumes the current varint field.
func (d *Decoder) Uint64() (uint64, error) {
	if d.typ != protowire.VarintType {
		return 0, fmt.Errorf("wire: field %d: expected varint, got wire type %d", d.num, d.typ)
	}
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		return 0, fmt.Errorf("wire: field %d: %w", d.num, protowire.ParseError(n))
	}
	d.buf = d.buf[n:]
	return v, nil
}

// Uint32 consumes the current varint field and narrows it to 32 bits.
func (d *Decoder) Uint32() (uint32, error) {
	v, err := d.Uint64()
	if err != nil {
		return 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, fmt.Errorf("wire: field %d: varint %d overflows uint32", d.num, v)
	}
	return uint32(v), nil
}

// Bool consumes the current varint field as a boolean.
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint64()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
