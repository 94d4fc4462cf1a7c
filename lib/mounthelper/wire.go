// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mounthelper implements the privileged-helper subprocess and
// its wire protocol: a single unprivileged client talks to a
// single-threaded privileged server over a SOCK_SEQPACKET socket
// pair, one in-flight request at a time, with xid-tagged
// request/response framing and bounded stale-reply tolerance.
//
// Go's runtime makes a bare fork() unsafe once goroutines and the
// scheduler are running, so unlike the C++ original this helper is
// started by executing a separate helper binary (mirrorfs-privhelper,
// see [StartHelper]) rather than forking, the same privilege-
// separation idiom used by containerd and Docker's runc shims. The
// socket pair is inherited across the exec as an extra file
// descriptor.
package mounthelper

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MsgType identifies the kind of a Message.
type MsgType uint32

const (
	MsgMount MsgType = iota + 1
	MsgUnmount
	MsgBindMount
	MsgEmptyResponse
	MsgErrorResponse
)

func (t MsgType) String() string {
	switch t {
	case MsgMount:
		return "Mount"
	case MsgUnmount:
		return "Unmount"
	case MsgBindMount:
		return "BindMount"
	case MsgEmptyResponse:
		return "EmptyResponse"
	case MsgErrorResponse:
		return "ErrorResponse"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(t))
	}
}

// MaxBodySize is the spec's body size ceiling; messages with a
// larger encoded body are rejected before being sent.
const MaxBodySize = 4096

// headerSize is the fixed-width prefix: xid, type, body length, all
// host-endian uint32s.
const headerSize = 12

// Message is one protocol frame. Body holds the CBOR-encoded request
// or response payload for Type; an ancillary file descriptor may
// additionally ride along a MsgEmptyResponse that answers a MsgMount
// request (see [Client.Mount]).
type Message struct {
	Xid  uint32
	Type MsgType
	Body []byte
}

// MountRequest is the body of a MsgMount message.
type MountRequest struct {
	Path string `cbor:"path"`
}

// UnmountRequest is the body of a MsgUnmount message.
type UnmountRequest struct {
	Path string `cbor:"path"`
}

// BindMountRequest is the body of a MsgBindMount message.
type BindMountRequest struct {
	ClientPath string `cbor:"client_path"`
	MountPath  string `cbor:"mount_path"`
}

// ErrorResponse is the body of a MsgErrorResponse message.
type ErrorResponse struct {
	Errno   int32  `cbor:"errno"`
	Message string `cbor:"message"`
}

// encode renders m as a flat byte slice: the fixed header followed by
// Body. It returns an error if Body exceeds MaxBodySize.
func (m Message) encode() ([]byte, error) {
	if len(m.Body) > MaxBodySize {
		return nil, fmt.Errorf("mounthelper: message body of %d bytes exceeds MaxBodySize %d", len(m.Body), MaxBodySize)
	}
	buf := make([]byte, headerSize+len(m.Body))
	binary.NativeEndian.PutUint32(buf[0:4], m.Xid)
	binary.NativeEndian.PutUint32(buf[4:8], uint32(m.Type))
	binary.NativeEndian.PutUint32(buf[8:12], uint32(len(m.Body)))
	copy(buf[headerSize:], m.Body)
	return buf, nil
}

// decodeMessage parses a single SOCK_SEQPACKET datagram (message
// boundaries are preserved by the kernel, so one Read == one
// Message) into a Message.
func decodeMessage(raw []byte) (Message, error) {
	if len(raw) < headerSize {
		return Message{}, fmt.Errorf("mounthelper: short message: %d bytes", len(raw))
	}
	xid := binary.NativeEndian.Uint32(raw[0:4])
	msgType := MsgType(binary.NativeEndian.Uint32(raw[4:8]))
	bodyLen := binary.NativeEndian.Uint32(raw[8:12])
	if int(bodyLen) != len(raw)-headerSize {
		return Message{}, fmt.Errorf("mounthelper: body length field %d does not match received %d bytes", bodyLen, len(raw)-headerSize)
	}
	body := make([]byte, bodyLen)
	copy(body, raw[headerSize:])
	return Message{Xid: xid, Type: msgType, Body: body}, nil
}

func encodeBody(v any) []byte {
	body, err := cbor.Marshal(v)
	if err != nil {
		// Every body type here is a plain struct of strings/ints;
		// cbor.Marshal cannot fail on them.
		panic(fmt.Sprintf("mounthelper: encoding %T: %v", v, err))
	}
	return body
}

func decodeBody(body []byte, v any) error {
	return cbor.Unmarshal(body, v)
}
