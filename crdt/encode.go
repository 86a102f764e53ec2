package crdt

import (
	"encoding/binary"
	"fmt"
)

// Binary encodings for updates and state vectors. The layout is
// varuint-based and identical in every process, so peers interoperate.
//
// Update:
//   varuint insertCount
//     per insert: varuint client, varuint clock,
//                 byte hasOrigin, [varuint originClient, varuint originClock],
//                 varuint byteLen, utf8 bytes
//   varuint deleteCount
//     per delete: varuint client, varuint clock, varuint length
//
// State vector:
//   varuint entryCount
//     per entry: varuint client, varuint nextClock

func encodeUpdate(upd Update) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(upd.inserts)))
	for _, run := range upd.inserts {
		buf = binary.AppendUvarint(buf, uint64(run.id.Client))
		buf = binary.AppendUvarint(buf, uint64(run.id.Clock))
		if run.origin != nil {
			buf = append(buf, 1)
			buf = binary.AppendUvarint(buf, uint64(run.origin.Client))
			buf = binary.AppendUvarint(buf, uint64(run.origin.Clock))
		} else {
			buf = append(buf, 0)
		}
		buf = binary.AppendUvarint(buf, uint64(len(run.text)))
		buf = append(buf, run.text...)
	}
	buf = binary.AppendUvarint(buf, uint64(len(upd.deletes)))
	for _, del := range upd.deletes {
		buf = binary.AppendUvarint(buf, uint64(del.target.Client))
		buf = binary.AppendUvarint(buf, uint64(del.target.Clock))
		buf = binary.AppendUvarint(buf, uint64(del.length))
	}
	return buf
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("crdt: truncated varint at offset %d", r.off)
	}
	r.off += n
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, fmt.Errorf("crdt: truncated payload at offset %d", r.off)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) bytes(n uint64) ([]byte, error) {
	if uint64(len(r.buf)-r.off) < n {
		return nil, fmt.Errorf("crdt: truncated payload at offset %d", r.off)
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func decodeUpdate(data []byte) (Update, error) {
	r := &reader{buf: data}
	var upd Update

	insertCount, err := r.uvarint()
	if err != nil {
		return upd, err
	}
	for i := uint64(0); i < insertCount; i++ {
		var run insertRun
		client, err := r.uvarint()
		if err != nil {
			return upd, err
		}
		clock, err := r.uvarint()
		if err != nil {
			return upd, err
		}
		run.id = ID{Client: uint32(client), Clock: uint32(clock)}

		hasOrigin, err := r.byte()
		if err != nil {
			return upd, err
		}
		if hasOrigin == 1 {
			oclient, err := r.uvarint()
			if err != nil {
				return upd, err
			}
			oclock, err := r.uvarint()
			if err != nil {
				return upd, err
			}
			run.origin = &ID{Client: uint32(oclient), Clock: uint32(oclock)}
		} else if hasOrigin != 0 {
			return upd, fmt.Errorf("crdt: invalid origin flag %d", hasOrigin)
		}

		byteLen, err := r.uvarint()
		if err != nil {
			return upd, err
		}
		text, err := r.bytes(byteLen)
		if err != nil {
			return upd, err
		}
		run.text = string(text)
		if run.text == "" {
			return upd, fmt.Errorf("crdt: empty insert run")
		}
		upd.inserts = append(upd.inserts, run)
	}

	deleteCount, err := r.uvarint()
	if err != nil {
		return upd, err
	}
	for i := uint64(0); i < deleteCount; i++ {
		client, err := r.uvarint()
		if err != nil {
			return upd, err
		}
		clock, err := r.uvarint()
		if err != nil {
			return upd, err
		}
		length, err := r.uvarint()
		if err != nil {
			return upd, err
		}
		if length == 0 {
			return upd, fmt.Errorf("crdt: empty delete range")
		}
		upd.deletes = append(upd.deletes, deleteRange{
			target: ID{Client: uint32(client), Clock: uint32(clock)},
			length: uint32(length),
		})
	}

	if r.off != len(data) {
		return upd, fmt.Errorf("crdt: %d trailing bytes", len(data)-r.off)
	}
	return upd, nil
}

func encodeStateVector(sv map[uint32]uint32) []byte {
	// stable ordering keeps encodings comparable across processes
	clients := make([]uint32, 0, len(sv))
	for c := range sv {
		clients = append(clients, c)
	}
	for i := 1; i < len(clients); i++ {
		for j := i; j > 0 && clients[j-1] > clients[j]; j-- {
			clients[j-1], clients[j] = clients[j], clients[j-1]
		}
	}

	buf := binary.AppendUvarint(nil, uint64(len(clients)))
	for _, c := range clients {
		buf = binary.AppendUvarint(buf, uint64(c))
		buf = binary.AppendUvarint(buf, uint64(sv[c]))
	}
	return buf
}

func decodeStateVector(data []byte) (map[uint32]uint32, error) {
	sv := make(map[uint32]uint32)
	if len(data) == 0 {
		return sv, nil
	}
	r := &reader{buf: data}
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		client, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		clock, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		sv[uint32(client)] = uint32(clock)
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("crdt: %d trailing bytes in state vector", len(data)-r.off)
	}
	return sv, nil
}
