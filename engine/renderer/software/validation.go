package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
)

type ValidationKind int

const (
	// A command touched an address whose buffer was released.
	VALIDATION_USE_AFTER_FREE ValidationKind = iota
	// A buffer is smaller than the command needs.
	VALIDATION_UNDERSIZED_BUFFER
	// A structure was read after a build without a UAV barrier in between.
	VALIDATION_MISSING_BARRIER
	// A refit names a source that cannot be updated.
	VALIDATION_INVALID_UPDATE
	// A buffer is in the wrong heap or state, or a structure lacks a flag.
	VALIDATION_INVALID_STATE
	// An address points at no buffer or structure at all.
	VALIDATION_INVALID_ADDRESS
	// An address violates the alignment rules.
	VALIDATION_MISALIGNED
)

var validationKindNames = map[ValidationKind]string{
	VALIDATION_USE_AFTER_FREE:    "use-after-free",
	VALIDATION_UNDERSIZED_BUFFER: "undersized-buffer",
	VALIDATION_MISSING_BARRIER:   "missing-barrier",
	VALIDATION_INVALID_UPDATE:    "invalid-update",
	VALIDATION_INVALID_STATE:     "invalid-state",
	VALIDATION_INVALID_ADDRESS:   "invalid-address",
	VALIDATION_MISALIGNED:        "misaligned",
}

func (k ValidationKind) String() string {
	if name, ok := validationKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ValidationKind(%d)", int(k))
}

type ValidationMessage struct {
	Kind    ValidationKind
	Message string
}

func (m ValidationMessage) String() string {
	return m.Kind.String() + ": " + m.Message
}

// Validator collects the errors a real driver's debug layer would report.
type Validator struct {
	mu       sync.Mutex
	enabled  bool
	messages []ValidationMessage
}

func newValidator(enabled bool) *Validator {
	return &Validator{enabled: enabled}
}

func (v *Validator) report(kind ValidationKind, format string, args ...interface{}) {
	if !v.enabled {
		return
	}
	msg := ValidationMessage{Kind: kind, Message: fmt.Sprintf(format, args...)}
	core.LogError("validation: %s", msg.String())

	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, msg)
}

func (v *Validator) Enabled() bool {
	return v.enabled
}

// Messages returns a copy of everything reported so far.
func (v *Validator) Messages() []ValidationMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ValidationMessage, len(v.messages))
	copy(out, v.messages)
	return out
}

// Count returns how many messages of kind were reported.
func (v *Validator) Count(kind ValidationKind) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, m := range v.messages {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = nil
}
