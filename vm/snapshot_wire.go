package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical options so equal snapshots encode to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes. Frame values are
// encoded as raw 64-bit words.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// MarshalBailout serializes a Bailout, including its snapshot.
func MarshalBailout(b *Bailout) ([]byte, error) {
	return cborEncMode.Marshal(b)
}

// UnmarshalBailout deserializes a Bailout from CBOR bytes.
func UnmarshalBailout(data []byte) (*Bailout, error) {
	var b Bailout
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("vm: unmarshal bailout: %w", err)
	}
	if b.Snapshot == nil {
		return nil, fmt.Errorf("vm: unmarshal bailout: missing snapshot")
	}
	return &b, nil
}
