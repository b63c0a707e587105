package tef

import (
	"math"
	"strconv"
)

// Args is an optional payload attached to a task when it ends, serialized as
// the "args" object of the event. The set of implementations is closed:
// MPIArgs, MPIInternalArgs, and MetadataArgs.
type Args interface {
	appendArgs(dst []byte, in *Interner) []byte
}

// MPIArgs describes a point-to-point message exchange.
type MPIArgs struct {
	SrcSize     uint64
	SrcLocation int
	SrcTag      int
	DstSize     uint64
	DstLocation int
	DstTag      int
}

func (a MPIArgs) appendArgs(dst []byte, _ *Interner) []byte {
	dst = append(dst, `{"src_size":`...)
	dst = strconv.AppendUint(dst, a.SrcSize, 10)
	dst = append(dst, `,"src_location":`...)
	dst = strconv.AppendInt(dst, int64(a.SrcLocation), 10)
	dst = append(dst, `,"src_tag":`...)
	dst = strconv.AppendInt(dst, int64(a.SrcTag), 10)
	dst = append(dst, `,"dst_size":`...)
	dst = strconv.AppendUint(dst, a.DstSize, 10)
	dst = append(dst, `,"dst_location":`...)
	dst = strconv.AppendInt(dst, int64(a.DstLocation), 10)
	dst = append(dst, `,"dst_tag":`...)
	dst = strconv.AppendInt(dst, int64(a.DstTag), 10)
	return append(dst, '}')
}

// MPIInternalArgs describes an internal collective step.
type MPIInternalArgs struct {
	Counter int64
	SrcSize uint64
	DstSize uint64
}

func (a MPIInternalArgs) appendArgs(dst []byte, _ *Interner) []byte {
	dst = append(dst, `{"mpi_counter":`...)
	dst = strconv.AppendInt(dst, a.Counter, 10)
	dst = append(dst, `,"src_size":`...)
	dst = strconv.AppendUint(dst, a.SrcSize, 10)
	dst = append(dst, `,"dst_size":`...)
	dst = strconv.AppendUint(dst, a.DstSize, 10)
	return append(dst, '}')
}

// MetadataArgs attaches flat numeric values under a single interned key. A
// single value is serialized as a number, more than one as an array. Keys
// that are zero or unknown are serialized as "metadata".
type MetadataArgs struct {
	Key    Name
	Values []float64
}

func (a MetadataArgs) appendArgs(dst []byte, in *Interner) []byte {
	dst = append(dst, `{"`...)
	if e := in.lookup(kindName, uint32(a.Key)); e != nil {
		dst = append(dst, e.escaped...)
	} else {
		dst = append(dst, "metadata"...)
	}
	dst = append(dst, `":`...)

	switch len(a.Values) {
	case 0:
		dst = append(dst, "null"...)
	case 1:
		dst = appendFloat(dst, a.Values[0])
	default:
		dst = append(dst, '[')
		for i, v := range a.Values {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendFloat(dst, v)
		}
		dst = append(dst, ']')
	}

	return append(dst, '}')
}

func appendFloat(dst []byte, v float64) []byte {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return append(dst, "null"...)
	}
	return strconv.AppendFloat(dst, v, 'g', -1, 64)
}
