package main

import (
	"unicode/utf8"
)

// RecordHeader represents the header of a record in a cell payload
type RecordHeader struct {
	HeaderSize  uint64   // varint: total bytes in header including this varint
	SerialTypes []uint64 // serial types: one per column
}

// Record represents a record within a cell. Values are decoded eagerly and
// own their bytes; nothing in a Record aliases a page buffer.
type Record struct {
	Header RecordHeader
	Values []Value
}

// decodeRecordHeader parses a record header from payload data. The declared
// header size must equal the bytes consumed reading the serial-type list.
func decodeRecordHeader(payload []byte, offset int) (RecordHeader, int, error) {
	header := RecordHeader{}
	headerSize, n, err := readVarint(payload, offset)
	if err != nil {
		return header, 0, err
	}
	header.HeaderSize = headerSize

	headerEnd := offset + int(headerSize)
	if headerEnd > len(payload) {
		return header, 0, NewDatabaseError("decode_record_header", ErrTruncated, map[string]interface{}{
			"header_size":  headerSize,
			"payload_size": len(payload),
		})
	}

	pos := offset + n
	for pos < headerEnd {
		serialType, n, err := readVarint(payload, pos)
		if err != nil {
			return header, 0, err
		}
		header.SerialTypes = append(header.SerialTypes, serialType)
		pos += n
	}
	if pos != headerEnd {
		return header, 0, NewDatabaseError("decode_record_header", ErrInvalidDatabase, map[string]interface{}{
			"declared_size": headerSize,
			"consumed":      pos - offset,
		})
	}

	return header, pos, nil
}

// decodeRecord parses a full record (header then body) from payload data.
func decodeRecord(payload []byte, offset int) (Record, int, error) {
	header, pos, err := decodeRecordHeader(payload, offset)
	if err != nil {
		return Record{}, 0, err
	}

	values := make([]Value, len(header.SerialTypes))
	for i, serialType := range header.SerialTypes {
		size, err := serialTypeSize(serialType)
		if err != nil {
			return Record{}, 0, err
		}
		if pos+size > len(payload) {
			return Record{}, 0, NewDatabaseError("decode_record_body", ErrTruncated, map[string]interface{}{
				"value_index":  i,
				"needed_bytes": pos + size,
				"have_bytes":   len(payload),
			})
		}
		data := make([]byte, size)
		copy(data, payload[pos:pos+size])
		if serialType >= 13 && serialType%2 == 1 && !utf8.Valid(data) {
			return Record{}, 0, NewDatabaseError("decode_record_body", ErrInvalidUTF8, map[string]interface{}{
				"value_index": i,
			})
		}
		values[i] = NewSQLiteValue(serialType, data)
		pos += size
	}

	return Record{Header: header, Values: values}, pos, nil
}
