// safetensors.go - Checkpoints im safetensors-Format
//
// Dieses Modul enthaelt:
// - Save: Parameter als safetensors schreiben (F64, F32, F16, BF16)
// - Load: safetensors lesen und nach float64 dekodieren
// - File.Into: geladene Tensoren per Name in Parameter kopieren
//
// Layout: 8 Byte Header-Laenge (little endian), JSON-Header mit Tensoren in
// Parameter-Reihenfolge und optionalem "__metadata__", danach die Rohdaten.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/x448/float16"

	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/nn"
)

const metadataKey = "__metadata__"

// maxHeaderSize bounds the JSON header read from untrusted files.
const maxHeaderSize = 100 << 20

var ErrFormat = errors.New("invalid safetensors file")

type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Tensor is one decoded checkpoint entry.
type Tensor struct {
	Name  string
	DType ml.DType
	Shape []int
	Data  []float64
}

// Save writes params in order, converting values to dtype.
func Save(w io.Writer, params []*nn.Param, dtype ml.DType, meta map[string]string) error {
	switch dtype {
	case ml.DTypeF64, ml.DTypeF32, ml.DTypeF16, ml.DTypeBF16:
	default:
		return fmt.Errorf("unsupported checkpoint dtype %s", dtype)
	}

	header := orderedmap.New[string, any]()
	if len(meta) > 0 {
		header.Set(metadataKey, meta)
	}

	var offset int64
	for _, p := range params {
		if _, ok := header.Get(p.Name); ok {
			return fmt.Errorf("duplicate tensor name %q", p.Name)
		}
		size := int64(p.Len() * dtype.Size())
		header.Set(p.Name, tensorInfo{
			DType:       dtype.String(),
			Shape:       p.Shape,
			DataOffsets: [2]int64{offset, offset + size},
		})
		offset += size
	}

	bts, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if pad := len(bts) % 8; pad != 0 {
		bts = append(bts, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return err
	}
	if _, err := w.Write(bts); err != nil {
		return err
	}

	for _, p := range params {
		if _, err := w.Write(encode(p.Data, dtype)); err != nil {
			return fmt.Errorf("write %s: %w", p.Name, err)
		}
	}
	return nil
}

func encode(data []float64, dtype ml.DType) []byte {
	switch dtype {
	case ml.DTypeF64:
		b := make([]byte, 8*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
		}
		return b
	case ml.DTypeF16:
		b := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(b[2*i:], float16.Fromfloat32(float32(v)).Bits())
		}
		return b
	case ml.DTypeBF16:
		return bfloat16.EncodeFloat32(toFloat32(data))
	default:
		b := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(float32(v)))
		}
		return b
	}
}

func toFloat32(data []float64) []float32 {
	f32s := make([]float32, len(data))
	for i, v := range data {
		f32s[i] = float32(v)
	}
	return f32s
}

func decode(b []byte, dtype ml.DType) []float64 {
	n := len(b) / dtype.Size()
	out := make([]float64, n)
	switch dtype {
	case ml.DTypeF64:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
		}
	case ml.DTypeF16:
		for i := range out {
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(b[2*i:])).Float32())
		}
	case ml.DTypeBF16:
		for i, v := range bfloat16.DecodeFloat32(b) {
			out[i] = float64(v)
		}
	default:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
		}
	}
	return out
}

// File is a loaded checkpoint.
type File struct {
	Metadata map[string]string

	names   []string
	tensors map[string]Tensor
}

// Load reads a whole safetensors stream.
func Load(r io.Reader) (*File, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: header length: %v", ErrFormat, err)
	}
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d", ErrFormat, n)
	}

	bts := make([]byte, n)
	if _, err := io.ReadFull(r, bts); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}

	header := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(bytes.TrimRight(bts, " "), header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f := &File{tensors: make(map[string]Tensor)}
	for pair := header.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == metadataKey {
			if err := json.Unmarshal(pair.Value, &f.Metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrFormat, err)
			}
			continue
		}

		var info tensorInfo
		if err := json.Unmarshal(pair.Value, &info); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFormat, pair.Key, err)
		}
		t, err := info.tensor(pair.Key, data)
		if err != nil {
			return nil, err
		}

		f.names = append(f.names, pair.Key)
		f.tensors[pair.Key] = t
	}
	return f, nil
}

func (info tensorInfo) tensor(name string, data []byte) (Tensor, error) {
	dtype, err := ml.ParseDType(info.DType)
	if err != nil || dtype == ml.DTypeOther {
		return Tensor{}, fmt.Errorf("%w: %s: unsupported dtype %q", ErrFormat, name, info.DType)
	}

	elems := 1
	for _, d := range info.Shape {
		elems *= d
	}

	begin, end := info.DataOffsets[0], info.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(data)) || end-begin != int64(elems*dtype.Size()) {
		return Tensor{}, fmt.Errorf("%w: %s: bad data offsets %v for shape %v", ErrFormat, name, info.DataOffsets, info.Shape)
	}

	return Tensor{
		Name:  name,
		DType: dtype,
		Shape: info.Shape,
		Data:  decode(data[begin:end], dtype),
	}, nil
}

// Names lists the tensors in file order.
func (f *File) Names() []string { return slices.Clone(f.names) }

func (f *File) Tensor(name string) (Tensor, bool) {
	t, ok := f.tensors[name]
	return t, ok
}

// Into copies every tensor into the parameter of the same name. All
// parameters must be present with matching shapes.
func (f *File) Into(params []*nn.Param) error {
	for _, p := range params {
		t, ok := f.tensors[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no tensor %q", p.Name)
		}
		if !slices.Equal(t.Shape, p.Shape) {
			return &diffusion.ShapeError{Op: "load " + p.Name, Want: p.Shape, Got: t.Shape}
		}
		copy(p.Data, t.Data)
	}
	return nil
}
