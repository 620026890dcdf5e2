package core

import "fmt"

// IdentifierPool hands out small integer identifiers, reusing released slots
// first so identifiers stay dense.
type IdentifierPool struct {
	owners []interface{}
	max    uint32
}

// NewIdentifierPool creates a pool whose identifiers are all < max.
func NewIdentifierPool(max uint32) *IdentifierPool {
	return &IdentifierPool{
		owners: make([]interface{}, 0, 100),
		max:    max,
	}
}

func (p *IdentifierPool) AquireNewID(owner interface{}) (uint32, error) {
	length := uint32(len(p.owners))
	for i := uint32(0); i < length; i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return i, nil
		}
	}

	// If here, no existing free slots. Need a new id, so push one.
	if length >= p.max {
		return 0, fmt.Errorf("identifier pool exhausted (max=%d)", p.max)
	}
	p.owners = append(p.owners, owner)
	return length, nil
}

func (p *IdentifierPool) ReleaseID(id uint32) error {
	length := uint32(len(p.owners))
	if id >= length {
		err := fmt.Errorf("identifier_release_id: id '%d' out of range (max=%d). Nothing was done", id, length)
		return err
	}

	// Just zero out the entry, making it available for use.
	p.owners[id] = nil
	return nil
}

// Owner returns the owner registered for id, or nil.
func (p *IdentifierPool) Owner(id uint32) interface{} {
	if id >= uint32(len(p.owners)) {
		return nil
	}
	return p.owners[id]
}
