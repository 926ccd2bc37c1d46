package schema

import (
	"encoding/binary"
	"fmt"
)

// StaleIndexPrefix prefixes every stale node record in a shard.
var StaleIndexPrefix = []byte("s/")

// StaleNodeIndex records that NodeKey stopped being part of the live tree
// at StaleSinceVersion.
type StaleNodeIndex struct {
	StaleSinceVersion uint64
	NodeKey           NodeKey
}

// Encode serializes the record as
//
//	stale since (8 bytes, big-endian) | encoded node key
//
// which keeps records ordered by (stale since, node key).
func (s StaleNodeIndex) Encode() []byte {
	nk := s.NodeKey.Encode()
	buf := make([]byte, 8, 8+len(nk))
	binary.BigEndian.PutUint64(buf, s.StaleSinceVersion)
	return append(buf, nk...)
}

// DecodeStaleNodeIndex is the inverse of StaleNodeIndex.Encode.
func DecodeStaleNodeIndex(b []byte) (StaleNodeIndex, error) {
	if len(b) < 8 {
		return StaleNodeIndex{}, fmt.Errorf("schema: stale node index too short: %d bytes", len(b))
	}
	nk, err := DecodeNodeKey(b[8:])
	if err != nil {
		return StaleNodeIndex{}, fmt.Errorf("schema: stale node index: %w", err)
	}
	return StaleNodeIndex{
		StaleSinceVersion: binary.BigEndian.Uint64(b),
		NodeKey:           nk,
	}, nil
}

// StaleIndexStoreKey returns the shard key under which the record is stored.
func StaleIndexStoreKey(s StaleNodeIndex) []byte {
	return append(append([]byte{}, StaleIndexPrefix...), s.Encode()...)
}

// DecodeStaleIndexStoreKey parses a key produced by StaleIndexStoreKey.
func DecodeStaleIndexStoreKey(key []byte) (StaleNodeIndex, error) {
	if len(key) < len(StaleIndexPrefix) || string(key[:len(StaleIndexPrefix)]) != string(StaleIndexPrefix) {
		return StaleNodeIndex{}, fmt.Errorf("schema: not a stale index key: %x", key)
	}
	return DecodeStaleNodeIndex(key[len(StaleIndexPrefix):])
}

// StaleIndexSeekKey returns the smallest stale index key whose stale since
// version is >= version.
func StaleIndexSeekKey(version uint64) []byte {
	buf := make([]byte, len(StaleIndexPrefix)+8)
	copy(buf, StaleIndexPrefix)
	binary.BigEndian.PutUint64(buf[len(StaleIndexPrefix):], version)
	return buf
}

func (s StaleNodeIndex) String() string {
	return fmt.Sprintf("stale@%d(%s)", s.StaleSinceVersion, s.NodeKey)
}
