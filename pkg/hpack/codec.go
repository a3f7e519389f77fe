package hpack

import (
	"bytes"
	"fmt"

	cmerrors "github.com/NoZip/centimani/pkg/errors"
)

// IndexingPolicy decides whether an encoded header field should be
// added to the dynamic table (incremental indexing) once encoded.
type IndexingPolicy func(HeaderField) bool

// HuffmanPolicy decides whether a literal string should be Huffman
// encoded. NeverHuffman and AlwaysHuffman are ready-made policies;
// ShortestHuffman picks whichever encoding is smaller.
type HuffmanPolicy func(string) bool

func NeverHuffman(string) bool  { return false }
func AlwaysHuffman(string) bool { return true }

// ShortestHuffman Huffman-encodes only when doing so is strictly shorter
// than the literal ASCII bytes; on a tie the literal form is used.
func ShortestHuffman(s string) bool {
	return huffmanEncodedLength([]byte(s)) < len(s)
}

// Encoder serializes header fields into an HPACK block.
type Encoder struct {
	context        *Context
	indexingPolicy IndexingPolicy
	huffmanPolicy  HuffmanPolicy
}

// NewEncoder builds an Encoder sharing context. A nil indexingPolicy
// never indexes; a nil huffmanPolicy never Huffman-encodes.
func NewEncoder(context *Context, indexingPolicy IndexingPolicy, huffmanPolicy HuffmanPolicy) *Encoder {
	if indexingPolicy == nil {
		indexingPolicy = func(HeaderField) bool { return false }
	}
	if huffmanPolicy == nil {
		huffmanPolicy = NeverHuffman
	}
	return &Encoder{context: context, indexingPolicy: indexingPolicy, huffmanPolicy: huffmanPolicy}
}

// encodeInt encodes value with an N-bit prefix (RFC 7541 §5.1),
// continuing into following bytes when it doesn't fit.
func encodeInt(value int, prefixLength int, bitPattern byte) []byte {
	mask := (1 << uint(prefixLength)) - 1
	var data []byte

	if value < mask {
		data = append(data, byte(value)|bitPattern)
		return data
	}

	data = append(data, byte(mask)|bitPattern)
	value -= mask

	for value >= 128 {
		data = append(data, byte(value%128)|0x80)
		value /= 128
	}
	data = append(data, byte(value))

	return data
}

func (e *Encoder) encodeString(s string) []byte {
	useHuffman := e.huffmanPolicy(s)

	var encoded []byte
	var length []byte
	if !useHuffman {
		encoded = []byte(s)
		length = encodeInt(len(s), 7, 0x00)
	} else {
		encoded = huffmanEncode([]byte(s))
		length = encodeInt(len(encoded), 7, 0x80)
	}

	out := make([]byte, 0, len(length)+len(encoded))
	out = append(out, length...)
	out = append(out, encoded...)
	return out
}

// Encode serializes hf as a single HPACK representation, choosing
// indexed / literal-with-indexed-name / literal-with-literal-name per
// RFC 7541 §6.1-6.2, and adds hf to the dynamic table first if the
// indexing policy calls for it.
func (e *Encoder) Encode(hf HeaderField) []byte {
	var data bytes.Buffer

	indexType, index := e.context.GetIndex(hf)

	isIndexable := false
	if indexType != IndexFull {
		isIndexable = e.indexingPolicy(hf)
	}

	if isIndexable {
		e.context.Add(hf)
	}

	switch indexType {
	case IndexNone:
		if isIndexable {
			data.WriteByte(0x40)
		} else {
			data.WriteByte(0x00)
		}
		data.Write(e.encodeString(hf.Name))
		data.Write(e.encodeString(hf.Value))

	case IndexName:
		if isIndexable {
			data.Write(encodeInt(index, 6, 0x40))
		} else {
			data.Write(encodeInt(index, 4, 0x00))
		}
		data.Write(e.encodeString(hf.Value))

	case IndexFull:
		data.Write(encodeInt(index, 7, 0x80))
	}

	return data.Bytes()
}

// EncodeAll encodes each field in fields in order and concatenates the
// result into a single HPACK block.
func (e *Encoder) EncodeAll(fields []HeaderField) []byte {
	var out bytes.Buffer
	for _, hf := range fields {
		out.Write(e.Encode(hf))
	}
	return out.Bytes()
}

// byteIterator is a simple cursor over an HPACK block, the Go analogue
// of the source decoder's Python byte iterator.
type byteIterator struct {
	data []byte
	pos  int
}

func (it *byteIterator) next() (byte, bool) {
	if it.pos >= len(it.data) {
		return 0, false
	}
	b := it.data[it.pos]
	it.pos++
	return b, true
}

func (it *byteIterator) take(n int) ([]byte, error) {
	if it.pos+n > len(it.data) {
		return nil, cmerrors.NewHpackProtocolError("take", fmt.Errorf("need %d bytes, have %d", n, len(it.data)-it.pos))
	}
	out := it.data[it.pos : it.pos+n]
	it.pos += n
	return out, nil
}

func decodeInt(it *byteIterator, prefixLength int, firstByte byte) (int, error) {
	mask := (1 << uint(prefixLength)) - 1
	value := int(firstByte) & mask

	if value < mask {
		return value, nil
	}

	shift := 0
	for {
		b, ok := it.next()
		if !ok {
			return 0, cmerrors.NewHpackProtocolError("decodeInt", fmt.Errorf("truncated integer"))
		}
		value += int(b&0x7F) << uint(shift)
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	return value, nil
}

func decodeString(it *byteIterator) (string, error) {
	firstByte, ok := it.next()
	if !ok {
		return "", cmerrors.NewHpackProtocolError("decodeString", fmt.Errorf("truncated string"))
	}

	isHuffman := firstByte&0x80 != 0
	length, err := decodeInt(it, 7, firstByte)
	if err != nil {
		return "", err
	}

	raw, err := it.take(length)
	if err != nil {
		return "", err
	}

	if !isHuffman {
		return string(raw), nil
	}

	decoded, err := huffmanDecode(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// Decoder parses an HPACK block into header fields, maintaining context's
// dynamic table as it goes.
type Decoder struct {
	context *Context
}

// NewDecoder builds a Decoder sharing context.
func NewDecoder(context *Context) *Decoder {
	return &Decoder{context: context}
}

// Decode parses every representation in data, in order, returning the
// decoded header fields. A dynamic-table-size-update representation
// updates the Decoder's context and yields no field.
func (d *Decoder) Decode(data []byte) ([]HeaderField, error) {
	it := &byteIterator{data: data}
	var fields []HeaderField

	for {
		first, ok := it.next()
		if !ok {
			break
		}

		var (
			hf                  HeaderField
			haveField           bool
			incrementalIndexing bool
		)

		switch {
		case first&0x80 != 0:
			// indexed header field
			index, err := decodeInt(it, 7, first)
			if err != nil {
				return nil, err
			}
			hf, err = d.context.Get(index)
			if err != nil {
				return nil, err
			}
			haveField = true

		case first&0x40 != 0:
			// literal with incremental indexing
			incrementalIndexing = true
			name, value, err := d.decodeNameValue(it, first, 6)
			if err != nil {
				return nil, err
			}
			hf = HeaderField{Name: name, Value: value}
			haveField = true

		case first&0x20 != 0:
			// dynamic table size update
			newSize, err := decodeInt(it, 5, first)
			if err != nil {
				return nil, err
			}
			if err := d.context.SetMaxSize(newSize); err != nil {
				return nil, cmerrors.NewHpackProtocolError("dynamic size update", err)
			}

		case first&0x10 != 0:
			// literal never indexed
			name, value, err := d.decodeNameValue(it, first, 4)
			if err != nil {
				return nil, err
			}
			hf = HeaderField{Name: name, Value: value}
			haveField = true

		default:
			// literal without indexing
			name, value, err := d.decodeNameValue(it, first, 4)
			if err != nil {
				return nil, err
			}
			hf = HeaderField{Name: name, Value: value}
			haveField = true
		}

		if haveField {
			if incrementalIndexing {
				d.context.Add(hf)
			}
			fields = append(fields, hf)
		}
	}

	return fields, nil
}

// decodeNameValue decodes the name (either an indexed reference using
// prefixLength bits, or a literal string) followed by a literal value
// string, for the three literal representation kinds that share this
// shape.
func (d *Decoder) decodeNameValue(it *byteIterator, first byte, prefixLength int) (name, value string, err error) {
	mask := (1 << uint(prefixLength)) - 1

	if int(first)&mask != 0 {
		index, ierr := decodeInt(it, prefixLength, first)
		if ierr != nil {
			return "", "", ierr
		}
		hf, gerr := d.context.Get(index)
		if gerr != nil {
			return "", "", gerr
		}
		name = hf.Name
	} else {
		name, err = decodeString(it)
		if err != nil {
			return "", "", err
		}
	}

	value, err = decodeString(it)
	if err != nil {
		return "", "", err
	}
	return name, value, nil
}
