package zref

// Descriptor.Flags layout: the low 16 bits are free for backend use
// (e.g. "this is a borrowed vs. owned region"); the high 16 bits carry
// an optional format tag a strict-mode session checks against its
// negotiated FormatPolicy.
const (
	FlagFormatTagged uint32 = 1 << 31
	formatTagShift           = 16
	formatTagMask     uint32 = 0xFF << formatTagShift
)

// tag reduces a FormatPolicy to the 8-bit value carried in a
// descriptor's flags. Not a cryptographic hash, just enough entropy to
// catch a sender attaching with the wrong element layout.
func (p *FormatPolicy) tag() uint8 {
	if p == nil {
		return 0
	}
	h := uint32(p.DTypeID)
	h = h*31 + uint32(p.ElemBits)
	h = h*31 + uint32(p.Align)
	h = h*31 + uint32(p.Stride)
	return uint8(h)
}

// WithFormatTag stamps desc with policy's tag, for a sender attached to
// a strict-mode session.
func WithFormatTag(desc Descriptor, policy *FormatPolicy) Descriptor {
	desc.Flags = (desc.Flags &^ formatTagMask) | FlagFormatTagged | (uint32(policy.tag()) << formatTagShift)
	return desc
}

// matchesDescriptor reports whether desc's tagged format (if any)
// agrees with p. An untagged descriptor always passes; strict mode
// only rejects a descriptor that was tagged with a different format.
func (p *FormatPolicy) matchesDescriptor(desc Descriptor) bool {
	if p == nil || desc.Flags&FlagFormatTagged == 0 {
		return true
	}
	return uint8((desc.Flags&formatTagMask)>>formatTagShift) == p.tag()
}
