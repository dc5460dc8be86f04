package cache

import (
	"encoding/binary"
	"math"
)

// SerializeEmbedding encodes a vector as a little-endian float32 array so
// it survives a KV round trip without precision drift (spec.md §3:
// "deserialize(serialize(v)) == v bit-for-bit").
func SerializeEmbedding(e Embedding) []byte {
	buf := make([]byte, 4*len(e))
	for i, v := range e {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

// DeserializeEmbedding decodes bytes produced by SerializeEmbedding. An
// input whose length is not a multiple of 4 is malformed and yields nil.
func DeserializeEmbedding(b []byte) Embedding {
	if len(b)%4 != 0 {
		return nil
	}
	n := len(b) / 4
	out := make(Embedding, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return out
}
