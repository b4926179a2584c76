package compilecache

import "fmt"

// KeyKind distinguishes an open-document cache key from a closed-file one.
type KeyKind int

const (
	// KeyKindLSP identifies an open document, keyed by editor-assigned version.
	KeyKindLSP KeyKind = iota
	// KeyKindFS identifies a closed file, keyed by (mtime, size).
	KeyKindFS
)

// Key is the comparable cache key described in the data model: for an open
// document it renders as "LSP:<version>"; for a closed file as
// "FS:<mtime>\x00<size>". The NUL separator is mandatory — filesystem mtime
// alone has one-second resolution and cannot discriminate two distinct
// file states that happen to round to the same second.
type Key struct {
	Kind     KeyKind
	Version  int
	MtimeSec int64
	Size     int64
}

// LSPKey builds a cache key for an open document at the given version.
func LSPKey(version int) Key {
	return Key{Kind: KeyKindLSP, Version: version}
}

// FSKey builds a cache key for a closed file's (mtime, size) pair.
func FSKey(mtimeSec, size int64) Key {
	return Key{Kind: KeyKindFS, MtimeSec: mtimeSec, Size: size}
}

// String renders the key in the exact wire form the data model specifies.
func (k Key) String() string {
	if k.Kind == KeyKindLSP {
		return fmt.Sprintf("LSP:%d", k.Version)
	}

	return fmt.Sprintf("FS:%d\x00%d", k.MtimeSec, k.Size)
}
