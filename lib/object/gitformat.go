// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

// modeDirectory, modeRegular, modeExecutable, and modeSymlink are the
// git tree entry modes this package recognizes. Any other mode value
// deserializes as MalformedObject.
const (
	modeDirectory  = "40000"
	modeRegular    = "100644"
	modeExecutable = "100755"
	modeSymlink    = "120000"
)

func modeFor(e Entry) (string, error) {
	switch e.Type {
	case Directory:
		return modeDirectory, nil
	case Symlink:
		return modeSymlink, nil
	case RegularFile:
		if e.PermBits&PermExecute != 0 {
			return modeExecutable, nil
		}
		return modeRegular, nil
	default:
		return "", errs.New(errs.Internal, "object: unknown file type %d", e.Type)
	}
}

func entryFor(mode string) (FileType, PermBits, error) {
	switch mode {
	case modeDirectory:
		return Directory, PermRead | PermWrite | PermExecute, nil
	case modeRegular:
		return RegularFile, PermRead | PermWrite, nil
	case modeExecutable:
		return RegularFile, PermRead | PermWrite | PermExecute, nil
	case modeSymlink:
		return Symlink, PermRead | PermWrite | PermExecute, nil
	default:
		return 0, 0, errs.New(errs.MalformedObject, "object: unrecognized tree entry mode %q", mode)
	}
}

// Serialize encodes entries (sorted into tree order first) into
// the git tree wire format: a "tree <len>\0" header followed by
// concatenated "<octal-mode> <name>\0<20-byte-hash>" entries.
func Serialize(entries []Entry) ([]byte, error) {
	sorted := NewTree(entries).Entries

	var body bytes.Buffer
	for _, e := range sorted {
		mode, err := modeFor(e)
		if err != nil {
			return nil, err
		}
		body.WriteString(mode)
		body.WriteByte(' ')
		body.WriteString(string(e.Name))
		body.WriteByte(0)
		body.Write(e.Hash[:])
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "tree %d\x00", body.Len())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Deserialize parses the git tree wire format into a Tree. Hash is set
// to the SHA-1 of data, matching the backing store's own object
// identity (sha1(serialize(entries(T))) = hash(T)).
func Deserialize(data []byte) (Tree, error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return Tree{}, errs.New(errs.MalformedObject, "object: truncated tree header")
	}
	header := string(data[:nul])
	const prefix = "tree "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return Tree{}, errs.New(errs.MalformedObject, "object: missing %q header", prefix)
	}
	length, err := strconv.Atoi(header[len(prefix):])
	if err != nil || length < 0 {
		return Tree{}, errs.New(errs.MalformedObject, "object: invalid tree header length %q", header[len(prefix):])
	}

	body := data[nul+1:]
	if len(body) != length {
		return Tree{}, errs.New(errs.MalformedObject, "object: tree header declares %d bytes, got %d", length, len(body))
	}

	var entries []Entry
	for len(body) > 0 {
		space := bytes.IndexByte(body, ' ')
		if space < 0 {
			return Tree{}, errs.New(errs.MalformedObject, "object: tree entry missing mode separator")
		}
		mode := string(body[:space])
		if mode == "" {
			return Tree{}, errs.New(errs.MalformedObject, "object: empty tree entry mode")
		}
		for _, r := range mode {
			if r < '0' || r > '7' {
				return Tree{}, errs.New(errs.MalformedObject, "object: non-octal mode digit in %q", mode)
			}
		}
		rest := body[space+1:]

		nameEnd := bytes.IndexByte(rest, 0)
		if nameEnd < 0 {
			return Tree{}, errs.New(errs.MalformedObject, "object: tree entry missing NUL after name")
		}
		name, err := objhash.NewPathComponent(string(rest[:nameEnd]))
		if err != nil {
			return Tree{}, errs.Wrap(errs.MalformedObject, err, "object: invalid tree entry name")
		}

		afterName := rest[nameEnd+1:]
		if len(afterName) < objhash.Size {
			return Tree{}, errs.New(errs.MalformedObject, "object: tree entry missing hash")
		}
		var hash objhash.Hash
		copy(hash[:], afterName[:objhash.Size])

		fileType, permBits, err := entryFor(mode)
		if err != nil {
			return Tree{}, err
		}

		entries = append(entries, Entry{
			Name:     name,
			Hash:     hash,
			Type:     fileType,
			PermBits: permBits,
		})
		body = afterName[objhash.Size:]
	}

	return Tree{
		Hash:    objhash.Sum(data),
		Entries: entries,
	}, nil
}
