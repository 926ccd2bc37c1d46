package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// MaxNibbles is the deepest nibble path a NodeKey can address
// (a 32 byte key hashed into 64 nibbles).
const MaxNibbles = 64

var (
	// NodePrefix prefixes every tree node stored in a shard.
	NodePrefix = []byte("n/")

	ErrInvalidNodeKey = errors.New("schema: invalid node key")
)

// NodeKey identifies a single node of the state tree: the nibble path
// leading to it and the version at which it was written.
type NodeKey struct {
	Version uint64
	// Path holds one nibble (0..15) per byte.
	Path []byte
}

// NewNodeKey constructs a NodeKey at the given version and nibble path.
func NewNodeKey(version uint64, path ...byte) NodeKey {
	return NodeKey{Version: version, Path: path}
}

// IsRoot reports whether the key addresses a node above the shard split.
func (k NodeKey) IsRoot() bool {
	return len(k.Path) == 0
}

// ShardID returns the data shard owning the node. Nodes above the shard
// split are owned by the metadata shard and yield NoShard.
func (k NodeKey) ShardID(numShards int) ShardID {
	if k.IsRoot() || numShards <= 0 {
		return NoShard
	}
	return ShardID(int(k.Path[0]) % numShards)
}

// Validate checks the nibble path is well-formed.
func (k NodeKey) Validate() error {
	if len(k.Path) > MaxNibbles {
		return fmt.Errorf("%w: path of %d nibbles", ErrInvalidNodeKey, len(k.Path))
	}
	for i, n := range k.Path {
		if n > 0x0f {
			return fmt.Errorf("%w: nibble %d out of range: %#x", ErrInvalidNodeKey, i, n)
		}
	}
	return nil
}

// Encode serializes the key as
//
//	version (8 bytes, big-endian) | nibble count (1 byte) | packed nibbles
//
// so that byte order follows (version, nibble count, path) order.
func (k NodeKey) Encode() []byte {
	packed := (len(k.Path) + 1) / 2
	buf := make([]byte, 8+1+packed)
	binary.BigEndian.PutUint64(buf, k.Version)
	buf[8] = byte(len(k.Path))
	for i, n := range k.Path {
		if i%2 == 0 {
			buf[9+i/2] = n << 4
		} else {
			buf[9+i/2] |= n & 0x0f
		}
	}
	return buf
}

// DecodeNodeKey is the inverse of NodeKey.Encode.
func DecodeNodeKey(b []byte) (NodeKey, error) {
	k, rest, err := decodeNodeKey(b)
	if err != nil {
		return NodeKey{}, err
	}
	if len(rest) != 0 {
		return NodeKey{}, fmt.Errorf("%w: %d trailing bytes", ErrInvalidNodeKey, len(rest))
	}
	return k, nil
}

func decodeNodeKey(b []byte) (NodeKey, []byte, error) {
	if len(b) < 9 {
		return NodeKey{}, nil, fmt.Errorf("%w: %d bytes", ErrInvalidNodeKey, len(b))
	}
	nibbles := int(b[8])
	if nibbles > MaxNibbles {
		return NodeKey{}, nil, fmt.Errorf("%w: path of %d nibbles", ErrInvalidNodeKey, nibbles)
	}
	packed := (nibbles + 1) / 2
	if len(b) < 9+packed {
		return NodeKey{}, nil, fmt.Errorf("%w: truncated path", ErrInvalidNodeKey)
	}

	k := NodeKey{
		Version: binary.BigEndian.Uint64(b),
		Path:    make([]byte, nibbles),
	}
	for i := range k.Path {
		if i%2 == 0 {
			k.Path[i] = b[9+i/2] >> 4
		} else {
			k.Path[i] = b[9+i/2] & 0x0f
		}
	}
	return k, b[9+packed:], nil
}

// NodeStoreKey returns the shard key under which the node is stored.
func NodeStoreKey(k NodeKey) []byte {
	return append(append([]byte{}, NodePrefix...), k.Encode()...)
}

func (k NodeKey) String() string {
	var sb strings.Builder
	for _, n := range k.Path {
		fmt.Fprintf(&sb, "%x", n)
	}
	return fmt.Sprintf("%d:[%s]", k.Version, sb.String())
}
