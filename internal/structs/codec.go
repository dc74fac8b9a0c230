// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// MsgpackHandle is the shared codec.Handle every frame type's
// `msgpack:"..."` tags above are written against — the same
// package-level handle idiom the teacher's streaming RPC layer uses
// (one *codec.MsgpackHandle reused across every Encoder/Decoder rather
// than allocated per call).
var MsgpackHandle = &codec.MsgpackHandle{}

// EncodeFrame serializes a frame (TuneFrame, RetuneFrame, UntuneFrame,
// PropFrame, or SignalFrame) to its wire representation. This module
// ends at the decoded message boundary (SPEC_FULL.md §1) — a transport
// collaborator owns the socket, but it reuses this encoding so the
// struct tags above and the bytes on the wire never drift apart.
func EncodeFrame(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, MsgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame deserializes b into v, which must be a pointer to one of
// the frame types EncodeFrame accepts.
func DecodeFrame(b []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(b), MsgpackHandle)
	return dec.Decode(v)
}
