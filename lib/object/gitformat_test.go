// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

func mustComponent(t *testing.T, name string) objhash.PathComponent {
	t.Helper()
	c, err := objhash.NewPathComponent(name)
	require.NoError(t, err)
	return c
}

func hashN(n byte) objhash.Hash {
	var h objhash.Hash
	h[objhash.Size-1] = n
	return h
}

// buildRepoLikeEntries returns an unordered entry set shaped like a
// real package directory listing: dotfiles, a couple of
// subdirectories, and an executable launcher script sitting right
// after a directory entry in tree order.
func buildRepoLikeEntries(t *testing.T) []Entry {
	t.Helper()
	specs := []struct {
		name string
		typ  FileType
		perm PermBits
	}{
		{".babelrc", RegularFile, PermRead | PermWrite},
		{".flowconfig", RegularFile, PermRead | PermWrite},
		{".gitignore", RegularFile, PermRead | PermWrite},
		{"lib", Directory, PermRead | PermWrite | PermExecute},
		{"nuclide-start-server", RegularFile, PermRead | PermWrite | PermExecute},
		{"package.json", RegularFile, PermRead | PermWrite},
		{"pkg", Directory, PermRead | PermWrite | PermExecute},
		{"scripts", Directory, PermRead | PermWrite | PermExecute},
		{"spec", Directory, PermRead | PermWrite | PermExecute},
		{"test", Directory, PermRead | PermWrite | PermExecute},
		{"zzz-last", RegularFile, PermRead | PermWrite},
	}
	entries := make([]Entry, len(specs))
	for i, s := range specs {
		entries[i] = Entry{
			Name:     mustComponent(t, s.name),
			Hash:     hashN(byte(i + 1)),
			Type:     s.typ,
			PermBits: s.perm,
		}
	}
	return entries
}

func TestDeserializeRepoLikeTree(t *testing.T) {
	data, err := Serialize(buildRepoLikeEntries(t))
	require.NoError(t, err)

	tree, err := Deserialize(data)
	require.NoError(t, err)
	require.Len(t, tree.Entries, 11)

	assert.Equal(t, objhash.PathComponent(".babelrc"), tree.Entries[0].Name)
	assert.Equal(t, RegularFile, tree.Entries[0].Type)
	assert.Equal(t, PermRead|PermWrite, tree.Entries[0].PermBits)

	assert.Equal(t, objhash.PathComponent("lib"), tree.Entries[3].Name)
	assert.Equal(t, Directory, tree.Entries[3].Type)
	assert.Equal(t, PermRead|PermWrite|PermExecute, tree.Entries[3].PermBits)

	assert.Equal(t, objhash.PathComponent("nuclide-start-server"), tree.Entries[4].Name)
	assert.Equal(t, RegularFile, tree.Entries[4].Type)
	assert.Equal(t, PermRead|PermWrite|PermExecute, tree.Entries[4].PermBits)

	assert.Equal(t, "f6645c995339a08f807745c6e7a2c840e5b01135", tree.Hash.String())

	_, found := tree.Lookup(mustComponent(t, "lab"))
	assert.False(t, found)
}

func TestSerializeRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: mustComponent(t, "README.md"), Hash: hashN(1), Type: RegularFile, PermBits: PermRead | PermWrite},
		{Name: mustComponent(t, "apm-rest-api.md"), Hash: hashN(2), Type: RegularFile, PermBits: PermRead | PermWrite},
		{Name: mustComponent(t, "build-instructions"), Hash: hashN(3), Type: RegularFile, PermBits: PermRead | PermWrite},
		{Name: mustComponent(t, "contributing-to-packages.md"), Hash: hashN(4), Type: RegularFile, PermBits: PermRead | PermWrite},
		{Name: mustComponent(t, "contributing.md"), Hash: hashN(5), Type: Symlink, PermBits: PermRead | PermWrite | PermExecute},
	}

	data, err := Serialize(entries)
	require.NoError(t, err)

	tree, err := Deserialize(data)
	require.NoError(t, err)
	require.Len(t, tree.Entries, 5)

	wantOrder := []string{
		"README.md",
		"apm-rest-api.md",
		"build-instructions",
		"contributing-to-packages.md",
		"contributing.md",
	}
	for i, name := range wantOrder {
		assert.Equal(t, objhash.PathComponent(name), tree.Entries[i].Name, "position %d", i)
	}
	assert.Equal(t, Symlink, tree.Entries[4].Type)

	reserialized, err := Serialize(tree.Entries)
	require.NoError(t, err)
	assert.Equal(t, data, reserialized)
}

func mustHash(t *testing.T, hex string) objhash.Hash {
	t.Helper()
	h, err := objhash.Parse(hex)
	require.NoError(t, err)
	return h
}

// buildGitTreeObject concatenates a git tree header with one
// "<mode> <name>\0<20-byte-hash>" record per name/hexHash pair, in the
// exact order given — callers are responsible for passing them in the
// order the reference tree object actually stores them.
func buildGitTreeObject(t *testing.T, entries [][3]string) []byte {
	t.Helper()
	var body []byte
	for _, e := range entries {
		mode, name, hexHash := e[0], e[1], e[2]
		body = append(body, []byte(mode+" "+name+"\x00")...)
		h := mustHash(t, hexHash)
		body = append(body, h[:]...)
	}
	header := "tree " + strconv.Itoa(len(body)) + "\x00"
	return append([]byte(header), body...)
}

// TestDeserializeNuclideTree ports EdenFS's GitTree.testDeserialize: a
// real git tree object from github.com/facebook/nuclide, verified
// against `git cat-file -p 8e073e366ed82de6465d1209d3f07da7eebabb93`.
func TestDeserializeNuclideTree(t *testing.T) {
	data := buildGitTreeObject(t, [][3]string{
		{"100644", ".babelrc", "3a8f8eb91101860fd8484154885838bf322964d0"},
		{"100644", ".flowconfig", "3610882f48696cc7ca0835929511c9db70acbec6"},
		{"100644", "README.md", "c5f15617ed29cd35964dc197a7960aeaedf2c2d5"},
		{"40000", "lib", "e95798e17f694c227b7a8441cc5c7dae50a187d0"},
		{"100755", "nuclide-start-server", "006babcf5734d028098961c6f4b6b6719656924b"},
		{"100644", "package.json", "582591e0f0d92cb63a85156e39abd43ebf103edc"},
		{"40000", "scripts", "e664fd28e60a0da25739fdf732f412ab3e91d1e1"},
		{"100644", "services-3.json", "3ead3c6cd723f4867bef4444ba18e6ffbf0f711a"},
		{"100644", "services-config.json", "bbc8e67499b7f3e1ea850eeda1253be7da5c9199"},
		{"40000", "spec", "3bae53a99d080dd851f78e36eb343320091a3d57"},
		{"100644", "xdebug.ini", "9ed5bbccd1b9b0077561d14c0130dc086ab27e04"},
	})
	assert.Equal(t, "8e073e366ed82de6465d1209d3f07da7eebabb93", objhash.Sum(data).String())

	tree, err := Deserialize(data)
	require.NoError(t, err)
	require.Len(t, tree.Entries, 11)

	babelrc := tree.Entries[0]
	assert.Equal(t, objhash.PathComponent(".babelrc"), babelrc.Name)
	assert.Equal(t, mustHash(t, "3a8f8eb91101860fd8484154885838bf322964d0"), babelrc.Hash)
	assert.Equal(t, RegularFile, babelrc.Type)
	assert.Equal(t, PermBits(0b110), babelrc.PermBits)

	lib := tree.Entries[3]
	assert.Equal(t, objhash.PathComponent("lib"), lib.Name)
	assert.Equal(t, mustHash(t, "e95798e17f694c227b7a8441cc5c7dae50a187d0"), lib.Hash)
	assert.Equal(t, Directory, lib.Type)
	assert.Equal(t, PermBits(0b111), lib.PermBits)

	nuclideStartServer := tree.Entries[4]
	assert.Equal(t, objhash.PathComponent("nuclide-start-server"), nuclideStartServer.Name)
	assert.Equal(t, mustHash(t, "006babcf5734d028098961c6f4b6b6719656924b"), nuclideStartServer.Hash)
	assert.Equal(t, RegularFile, nuclideStartServer.Type)
	assert.Equal(t, PermBits(0b111), nuclideStartServer.PermBits)

	_, found := tree.Lookup(mustComponent(t, "lab"))
	assert.False(t, found)
}

// TestSerializeRoundTripAtomTree ports EdenFS's
// GitTree.testDeserializeWithSymlink: building the same five entries
// as the reference github.com/atom/atom tree object and serializing
// them must reproduce the known SHA-1
// 013b7865a6da317bc8d82c7225eb93615f1b1eca.
func TestSerializeRoundTripAtomTree(t *testing.T) {
	entries := []Entry{
		{Name: mustComponent(t, "README.md"), Hash: mustHash(t, "c66788d87933862e2111a86304b705dd90bbd427"), Type: RegularFile, PermBits: PermRead | PermWrite},
		{Name: mustComponent(t, "apm-rest-api.md"), Hash: mustHash(t, "a3c8e5c25e5523322f0ea490173dbdc1d844aefb"), Type: RegularFile, PermBits: PermRead | PermWrite},
		{Name: mustComponent(t, "build-instructions"), Hash: mustHash(t, "de0b8287939193ed239834991be65b96cbfc4508"), Type: Directory, PermBits: PermRead | PermWrite | PermExecute},
		{Name: mustComponent(t, "contributing-to-packages.md"), Hash: mustHash(t, "4576635ff317960be244b1c4adfe2a6eb2eb024d"), Type: RegularFile, PermBits: PermRead | PermWrite},
		{Name: mustComponent(t, "contributing.md"), Hash: mustHash(t, "44fcc63439371c8c829df00eec6aedbdc4d0e4cd"), Type: Symlink, PermBits: PermRead | PermWrite | PermExecute},
	}

	data, err := Serialize(entries)
	require.NoError(t, err)
	assert.Equal(t, "013b7865a6da317bc8d82c7225eb93615f1b1eca", objhash.Sum(data).String())

	tree, err := Deserialize(data)
	require.NoError(t, err)
	require.Len(t, tree.Entries, 5)

	wantOrder := []string{
		"README.md",
		"apm-rest-api.md",
		"build-instructions",
		"contributing-to-packages.md",
		"contributing.md",
	}
	for i, name := range wantOrder {
		assert.Equal(t, objhash.PathComponent(name), tree.Entries[i].Name, "position %d", i)
	}

	contributing := tree.Entries[4]
	assert.Equal(t, mustHash(t, "44fcc63439371c8c829df00eec6aedbdc4d0e4cd"), contributing.Hash)
	assert.Equal(t, Symlink, contributing.Type)
	assert.Equal(t, PermBits(0b111), contributing.PermBits)

	reserialized, err := Serialize(tree.Entries)
	require.NoError(t, err)
	assert.Equal(t, data, reserialized)
}

func TestDeserializeRejectsTruncatedHeader(t *testing.T) {
	_, err := Deserialize([]byte("tree 10"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MalformedObject))
}

func TestDeserializeRejectsMissingNameNUL(t *testing.T) {
	filler := make([]byte, objhash.Size)
	for i := range filler {
		filler[i] = 'A'
	}
	data := append([]byte("100644 README.md"), filler...)
	full := append([]byte("tree "+strconv.Itoa(len(data))+"\x00"), data...)
	_, err := Deserialize(full)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MalformedObject))
}

func TestDeserializeRejectsMissingHash(t *testing.T) {
	entry := []byte("100644 README.md\x00short")
	full := append([]byte("tree "+strconv.Itoa(len(entry))+"\x00"), entry...)
	_, err := Deserialize(full)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MalformedObject))
}

func TestDeserializeRejectsTrailingByteAfterLastHash(t *testing.T) {
	var hash [objhash.Size]byte
	entry := append([]byte("100644 README.md\x00"), hash[:]...)
	entry = append(entry, 'x')
	full := append([]byte("tree "+strconv.Itoa(len(entry))+"\x00"), entry...)
	_, err := Deserialize(full)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MalformedObject))
}

func TestDeserializeRejectsNonOctalModeDigit(t *testing.T) {
	var hash [objhash.Size]byte
	entry := append([]byte("100948 README.md\x00"), hash[:]...)
	full := append([]byte("tree "+strconv.Itoa(len(entry))+"\x00"), entry...)
	_, err := Deserialize(full)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MalformedObject))
}

func TestDeserializeRejectsUnrecognizedMode(t *testing.T) {
	var hash [objhash.Size]byte
	entry := append([]byte("100000 README.md\x00"), hash[:]...)
	full := append([]byte("tree "+strconv.Itoa(len(entry))+"\x00"), entry...)
	_, err := Deserialize(full)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MalformedObject))
}
