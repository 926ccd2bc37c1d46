package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// ShardID identifies a data shard. NoShard addresses the metadata shard and
// the overall (top level) progress.
type ShardID int

const NoShard ShardID = -1

func (id ShardID) String() string {
	if id == NoShard {
		return "none"
	}
	return strconv.Itoa(int(id))
}

// MetadataPrefix prefixes bookkeeping records kept next to tree data.
var MetadataPrefix = []byte("m/")

// tags of metadata values
const (
	tagVersion byte = 0x01
)

var ErrUnexpectedTag = errors.New("schema: unexpected metadata value tag")

// ProgressKey returns the key holding the progress of the named pruner for
// the given shard, or the overall progress for NoShard.
func ProgressKey(pruner string, shard ShardID) []byte {
	key := string(MetadataPrefix) + "pruner/" + pruner + "/progress"
	if shard != NoShard {
		key += "/" + shard.String()
	}
	return []byte(key)
}

// EncodeVersion encodes a tagged Version metadata value.
func EncodeVersion(v uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagVersion
	binary.BigEndian.PutUint64(buf[1:], v)
	return buf
}

// DecodeVersion decodes a value produced by EncodeVersion.
func DecodeVersion(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty value", ErrUnexpectedTag)
	}
	if b[0] != tagVersion {
		return 0, fmt.Errorf("%w: %#x", ErrUnexpectedTag, b[0])
	}
	if len(b) != 9 {
		return 0, fmt.Errorf("schema: version value of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b[1:]), nil
}
