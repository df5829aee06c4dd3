package blueprint

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
)

// ClientID identifies a connected peer. Assigned by the authority on join.
type ClientID uint64

func (c ClientID) String() string { return strconv.FormatUint(uint64(c), 10) }

var ErrZeroBlockID = errors.New("zero block id")

// BlockID is the persistent 128-bit identifier of a structural object. It is
// generated once with NewBlockID and never reused. The zero value is not a
// valid id: it cannot be serialized and is rejected on decode.
type BlockID struct {
	u uuid.UUID
}

func NewBlockID() BlockID {
	return BlockID{u: uuid.New()}
}

// NewBlockIDFrom draws a random id from r. A seeded r makes the ids of a
// replayed session match the recorded ones.
func NewBlockIDFrom(r io.Reader) (BlockID, error) {
	u, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return BlockID{}, fmt.Errorf("block id: %w", err)
	}
	if u == uuid.Nil {
		return BlockID{}, ErrZeroBlockID
	}
	return BlockID{u: u}, nil
}

// ParseBlockID parses the canonical text form. The nil UUID is rejected.
func ParseBlockID(s string) (BlockID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return BlockID{}, fmt.Errorf("block id: %w", err)
	}
	if u == uuid.Nil {
		return BlockID{}, ErrZeroBlockID
	}
	return BlockID{u: u}, nil
}

func (id BlockID) IsZero() bool { return id.u == uuid.Nil }

func (id BlockID) String() string { return id.u.String() }

func (id BlockID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, ErrZeroBlockID
	}
	return []byte(id.u.String()), nil
}

func (id *BlockID) UnmarshalText(b []byte) error {
	v, err := ParseBlockID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
