package codec

import (
	"encoding/binary"
	"errors"
)

// JobEnvelope carries a registered method's invocation across the dispatcher
// goroutine -> worker pool goroutine boundary (server.WorkerPool). Args and
// Dicts are pre-serialized JSON blobs rather than live Go values, so the
// worker never shares memory with the dispatching goroutine.
type JobEnvelope struct {
	MethodName string
	Args       []byte // JSON-encoded []any
	Dicts      []byte // JSON-encoded map[string]any
}

// BinaryCodec implements a compact length-prefixed binary serialization for
// JobEnvelope.
//
// Binary format:
//
//	┌─────────────┬──────────────┬────────────┬────────┬────────────┬────────┐
//	│MethodLen(2) │ Method bytes │ ArgsLen(4) │  Args  │ DictsLen(4)│ Dicts  │
//	└─────────────┴──────────────┴────────────┴────────┴────────────┴────────┘
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	env, ok := v.(*JobEnvelope)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *JobEnvelope")
	}

	total := 2 + len(env.MethodName) + 4 + len(env.Args) + 4 + len(env.Dicts)
	buf := make([]byte, total)
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(env.MethodName)))
	offset += 2
	copy(buf[offset:offset+len(env.MethodName)], env.MethodName)
	offset += len(env.MethodName)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(env.Args)))
	offset += 4
	copy(buf[offset:offset+len(env.Args)], env.Args)
	offset += len(env.Args)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(env.Dicts)))
	offset += 4
	copy(buf[offset:offset+len(env.Dicts)], env.Dicts)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	env, ok := v.(*JobEnvelope)
	if !ok {
		return errors.New("BinaryCodec: v must be *JobEnvelope")
	}
	if len(data) < 2 {
		return errors.New("BinaryCodec: truncated envelope")
	}

	offset := 0
	methodLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) < offset+methodLen+4 {
		return errors.New("BinaryCodec: truncated envelope")
	}
	env.MethodName = string(data[offset : offset+methodLen])
	offset += methodLen

	argsLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data) < offset+argsLen+4 {
		return errors.New("BinaryCodec: truncated envelope")
	}
	env.Args = append([]byte(nil), data[offset:offset+argsLen]...)
	offset += argsLen

	dictsLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data) < offset+dictsLen {
		return errors.New("BinaryCodec: truncated envelope")
	}
	env.Dicts = append([]byte(nil), data[offset:offset+dictsLen]...)

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
