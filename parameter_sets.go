package gomp4mux

// parameterSets stores the first parameter set of every kind.
type parameterSets struct {
	vps []byte
	sps []byte
	pps []byte
}

// store saves a parameter set, unless one of the same kind is already present.
// It returns whether the parameter set has been saved.
func (ps *parameterSets) store(typ NALType, payload []byte) bool {
	var slot *[]byte

	switch typ {
	case NALTypeVPS:
		slot = &ps.vps
	case NALTypeSPS:
		slot = &ps.sps
	case NALTypePPS:
		slot = &ps.pps
	default:
		return false
	}

	if len(*slot) != 0 || len(payload) == 0 {
		return false
	}

	*slot = append([]byte(nil), payload...)
	return true
}

// complete returns whether all parameter sets required by the codec are present.
func (ps *parameterSets) complete(kind CodecKind) bool {
	switch kind {
	case CodecKindH264:
		return len(ps.sps) != 0 && len(ps.pps) != 0

	case CodecKindH265:
		return len(ps.vps) != 0 && len(ps.sps) != 0 && len(ps.pps) != 0
	}
	return false
}
