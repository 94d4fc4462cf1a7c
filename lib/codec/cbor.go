// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides mirrorfs's standard CBOR encoding
// configuration. Every on-disk compact format (overlay directory
// listings, dirstate, the mount helper's wire protocol) goes through
// this package so they all encode identically without duplicating
// the encoder configuration. Core Deterministic Encoding (RFC 8949
// §4.2) is used throughout: sorted map keys, smallest integer
// encoding, no indefinite-length items — the same logical value
// always produces identical bytes, which matters for the dirstate's
// save/load stability invariant.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Decoder = cbor.Decoder

// NewEncoder returns a streaming CBOR encoder using mirrorfs's
// standard encoding mode.
func NewEncoder(w interface{ Write([]byte) (int, error) }) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a streaming CBOR decoder using mirrorfs's
// standard decoding mode.
func NewDecoder(r interface{ Read([]byte) (int, error) }) *Decoder {
	return decMode.NewDecoder(r)
}
