package runlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/bianoble/codemod-runner/internal/digest"
)

// EncodePreamble returns the 8-byte log preamble.
func EncodePreamble() []byte {
	out := make([]byte, 0, preambleLength)
	out = append(out, preambleMagic[:]...)
	return append(out, formatVersion[:]...)
}

// EncodeCase returns the full case record (magic, length, checksum, payload).
func EncodeCase(c Case) ([]byte, error) {
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	record, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding argument record: %w", err)
	}

	payload := make([]byte, 0, 2*digest.Size+8+4+len(c.TargetPath)+len(record))
	payload = append(payload, c.CaseDigest[:]...)
	payload = append(payload, c.CodemodDigest[:]...)
	payload = binary.BigEndian.AppendUint64(payload, uint64(c.CreatedAt))
	if payload, err = appendString(payload, c.TargetPath); err != nil {
		return nil, fmt.Errorf("target path: %w", err)
	}
	if payload, err = appendString(payload, string(record)); err != nil {
		return nil, fmt.Errorf("argument record: %w", err)
	}

	return frame(caseMagic, payload)
}

// EncodeJob returns the full job record.
func EncodeJob(j Job) ([]byte, error) {
	fields := j.fields()
	if fields == nil {
		return nil, fmt.Errorf("%w: unknown job kind %d", ErrMalformed, j.Kind)
	}

	payload := make([]byte, 0, digest.Size+1+64)
	payload = append(payload, j.Digest[:]...)
	payload = append(payload, byte(j.Kind))

	var err error
	for _, f := range fields {
		if payload, err = appendString(payload, f); err != nil {
			return nil, fmt.Errorf("%s job: %w", j.Kind, err)
		}
	}

	return frame(jobMagic, payload)
}

// EncodePostamble returns the postamble carrying the rolling checksum.
func EncodePostamble(rolling digest.Digest) []byte {
	out := make([]byte, 0, magicLength+digest.Size)
	out = append(out, postambleMagic[:]...)
	return append(out, rolling[:]...)
}

func frame(magic [4]byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(payload))
	}
	sum := digest.Sum(payload)

	out := make([]byte, 0, magicLength+recordHeaderLength+len(payload))
	out = append(out, magic[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, sum[:]...)
	return append(out, payload...), nil
}

func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > MaxStringLength {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrStringTooLong, len(s), MaxStringLength)
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

// decodeCase parses a verified case payload.
func decodeCase(payload []byte) (Case, error) {
	const fixed = 2*digest.Size + 8
	if len(payload) < fixed {
		return Case{}, fmt.Errorf("%w: case payload is %d bytes", ErrMalformed, len(payload))
	}

	var c Case
	copy(c.CaseDigest[:], payload[:digest.Size])
	copy(c.CodemodDigest[:], payload[digest.Size:2*digest.Size])
	c.CreatedAt = int64(binary.BigEndian.Uint64(payload[2*digest.Size : fixed]))

	rest := payload[fixed:]
	target, rest, err := readString(rest)
	if err != nil {
		return Case{}, fmt.Errorf("case target path: %w", err)
	}
	record, rest, err := readString(rest)
	if err != nil {
		return Case{}, fmt.Errorf("case argument record: %w", err)
	}
	if len(rest) != 0 {
		return Case{}, fmt.Errorf("%w: %d trailing bytes in case payload", ErrMalformed, len(rest))
	}

	c.TargetPath = target
	c.Arguments = map[string]any{}
	if err := json.Unmarshal([]byte(record), &c.Arguments); err != nil {
		return Case{}, fmt.Errorf("%w: argument record: %v", ErrMalformed, err)
	}
	if c.Arguments == nil {
		c.Arguments = map[string]any{}
	}
	return c, nil
}

// decodeJob parses a verified job payload.
func decodeJob(payload []byte) (Job, error) {
	if len(payload) < digest.Size+1 {
		return Job{}, fmt.Errorf("%w: job payload is %d bytes", ErrMalformed, len(payload))
	}

	var d digest.Digest
	copy(d[:], payload[:digest.Size])
	kind := JobKind(payload[digest.Size])

	count, ok := kind.fieldCount()
	if !ok {
		return Job{}, fmt.Errorf("%w: job kind %d is not recognized", ErrMalformed, kind)
	}

	rest := payload[digest.Size+1:]
	fields := make([]string, count)
	for i := range fields {
		var err error
		if fields[i], rest, err = readString(rest); err != nil {
			return Job{}, fmt.Errorf("%s job field %d: %w", kind, i, err)
		}
	}
	if len(rest) != 0 {
		return Job{}, fmt.Errorf("%w: %d trailing bytes in job payload", ErrMalformed, len(rest))
	}

	return jobFromFields(d, kind, fields), nil
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("%w: missing string length", ErrMalformed)
	}
	n := int(binary.BigEndian.Uint16(b))
	if n > MaxStringLength {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrStringTooLong, n)
	}
	if len(b) < 2+n {
		return "", nil, fmt.Errorf("%w: string of %d bytes truncated", ErrMalformed, n)
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}
