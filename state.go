package framegraph

import (
	"fmt"
	"math/bits"
	"strings"
)

// Kind classifies a resource and limits the states it may enter.
type Kind uint8

const (
	// KindRenderTarget is a color attachment that can also be sampled.
	KindRenderTarget Kind = iota + 1

	// KindDepth is a depth/stencil attachment.
	KindDepth

	// KindShaderResource is a read-mostly texture or buffer.
	KindShaderResource

	// KindUnorderedAccess is a storage texture or buffer written by compute.
	KindUnorderedAccess

	// KindStreamOut is a buffer written by the stream-output stage.
	KindStreamOut

	// KindQuery is a query heap (timestamps, occlusion).
	KindQuery

	// KindBackBuffer is the swapchain image presented at frame end.
	KindBackBuffer
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRenderTarget:
		return "RenderTarget"
	case KindDepth:
		return "Depth"
	case KindShaderResource:
		return "ShaderResource"
	case KindUnorderedAccess:
		return "UnorderedAccess"
	case KindStreamOut:
		return "StreamOut"
	case KindQuery:
		return "Query"
	case KindBackBuffer:
		return "BackBuffer"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ParseKind returns the kind named name, ignoring case.
func ParseKind(name string) (Kind, error) {
	for k := KindRenderTarget; k <= KindBackBuffer; k++ {
		if strings.EqualFold(k.String(), name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, name)
}

// State is the access mode a resource is in. Exactly one bit is set in a
// valid State; masks of several bits are only used internally.
type State uint32

const (
	// StateCommon is the generic state every kind may enter.
	StateCommon State = 1 << iota
	StateRenderTarget
	StateDepthWrite
	StateDepthRead
	StateShaderResource
	StateUnorderedAccess
	StateStreamOut
	StateCopySrc
	StateCopyDst
	StateIndirectArgument
	StateQueryWrite
	StatePresent
)

const (
	readStates = StateCommon | StateDepthRead | StateShaderResource | StateCopySrc |
		StateIndirectArgument | StatePresent
	writeStates = StateCommon | StateRenderTarget | StateDepthWrite | StateUnorderedAccess |
		StateStreamOut | StateCopyDst | StateQueryWrite
)

var stateNames = [...]string{
	"Common", "RenderTarget", "DepthWrite", "DepthRead", "ShaderResource",
	"UnorderedAccess", "StreamOut", "CopySrc", "CopyDst", "IndirectArgument",
	"QueryWrite", "Present",
}

// String returns the state name, or a |-joined list for masks.
func (s State) String() string {
	if s == 0 {
		return "None"
	}
	var parts []string
	for rest := s; rest != 0; rest &= rest - 1 {
		i := bits.TrailingZeros32(uint32(rest))
		if i < len(stateNames) {
			parts = append(parts, stateNames[i])
		} else {
			parts = append(parts, fmt.Sprintf("State(1<<%d)", i))
		}
	}
	return strings.Join(parts, "|")
}

// ParseState returns the single state named name, ignoring case.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return State(1) << i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown state %q", ErrInvalidAccess, name)
}

// IsValid reports whether s is exactly one known state.
func (s State) IsValid() bool {
	return s != 0 && s&(s-1) == 0 && bits.TrailingZeros32(uint32(s)) < len(stateNames)
}

// IsRead reports whether s may be requested through ReadResource.
func (s State) IsRead() bool { return s.IsValid() && s&readStates != 0 }

// IsWrite reports whether s may be requested through WriteResource.
func (s State) IsWrite() bool { return s.IsValid() && s&writeStates != 0 }

// AllowedStates returns the mask of states resources of kind k may enter.
func (k Kind) AllowedStates() State {
	switch k {
	case KindRenderTarget:
		return StateCommon | StateRenderTarget | StateShaderResource | StateUnorderedAccess |
			StateCopySrc | StateCopyDst
	case KindDepth:
		return StateCommon | StateDepthWrite | StateDepthRead | StateShaderResource |
			StateCopySrc | StateCopyDst
	case KindShaderResource:
		return StateCommon | StateShaderResource | StateIndirectArgument | StateCopySrc | StateCopyDst
	case KindUnorderedAccess:
		return StateCommon | StateUnorderedAccess | StateShaderResource | StateIndirectArgument |
			StateCopySrc | StateCopyDst
	case KindStreamOut:
		return StateCommon | StateStreamOut | StateShaderResource | StateIndirectArgument |
			StateCopySrc | StateCopyDst
	case KindQuery:
		return StateCommon | StateQueryWrite | StateCopySrc | StateCopyDst
	case KindBackBuffer:
		return StateCommon | StateRenderTarget | StatePresent | StateCopySrc | StateCopyDst
	default:
		return 0
	}
}

// Allows reports whether resources of kind k may enter state s.
func (k Kind) Allows(s State) bool {
	return s.IsValid() && k.AllowedStates()&s != 0
}

// checkAccess validates a requested state against a kind and access mode.
func checkAccess(k Kind, s State, write bool) error {
	if !s.IsValid() {
		return fmt.Errorf("%w: %v is not a single state", ErrInvalidAccess, s)
	}
	if !k.Allows(s) {
		return fmt.Errorf("%w: %v resources cannot enter %v", ErrInvalidAccess, k, s)
	}
	if write && !s.IsWrite() {
		return fmt.Errorf("%w: %v is not a write state", ErrInvalidAccess, s)
	}
	if !write && !s.IsRead() {
		return fmt.Errorf("%w: %v is not a read state", ErrInvalidAccess, s)
	}
	return nil
}
