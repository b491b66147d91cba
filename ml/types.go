// types.go - Datentypen fuer Tensor-Speicherung
// Dieses Modul definiert DType fuer die Serialisierung von Tensoren.
// Gerechnet wird immer in float64, DType beschreibt nur das Speicherformat.
package ml

import "fmt"

// DType represents the storage type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF64
	DTypeF32
	DTypeF16
	DTypeBF16
)

// String returns the safetensors name of the data type.
func (d DType) String() string {
	switch d {
	case DTypeF64:
		return "F64"
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeBF16:
		return "BF16"
	default:
		return "OTHER"
	}
}

// Size returns the number of bytes per element.
func (d DType) Size() int {
	switch d {
	case DTypeF64:
		return 8
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 0
	}
}

// ParseDType accepts the safetensors names as well as lower case aliases
// such as "float16" or "bf16".
func ParseDType(s string) (DType, error) {
	switch s {
	case "F64", "f64", "float64":
		return DTypeF64, nil
	case "F32", "f32", "float32", "":
		return DTypeF32, nil
	case "F16", "f16", "float16", "half":
		return DTypeF16, nil
	case "BF16", "bf16", "bfloat16":
		return DTypeBF16, nil
	}
	return DTypeOther, fmt.Errorf("unsupported dtype %q", s)
}
