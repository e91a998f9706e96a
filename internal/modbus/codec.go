package modbus

import (
	"fmt"
	"math"
)

// Decode converts raw register words into an engineering value according
// to the descriptor's data type and scaling.
//
// The number of words must match the descriptor's width: one word for
// 16-bit and boolean types, two words (big-endian word order, most
// significant first) for 32-bit and float types.
//
// Conversion rules:
//   - boolean: raw truthiness of the single word, no scaling
//   - int16: two's-complement sign extension, then scaling
//   - uint16/int32/uint32: integer value multiplied by scaling
//   - float: IEEE-754 single precision from the combined words, then scaling
//
// Parameters:
//   - raw: Raw register words as read from the wire
//   - d: Descriptor giving data type and scaling
//
// Returns:
//   - any: float64 for numeric types, bool for boolean
//   - error: ErrWordCount on width mismatch, ErrUnsupportedType otherwise
func Decode(raw []uint16, d RegisterDescriptor) (any, error) {
	if len(raw) != int(d.Words()) {
		return nil, fmt.Errorf("%w: %s needs %d words, got %d", ErrWordCount, d.DataType, d.Words(), len(raw))
	}

	switch d.DataType {
	case TypeBoolean:
		return raw[0] != 0, nil

	case TypeInt16:
		// Reinterpret the unsigned word as two's-complement.
		return float64(int16(raw[0])) * d.scale(), nil

	case TypeUint16:
		return float64(raw[0]) * d.scale(), nil

	case TypeInt32:
		combined := uint32(raw[0])<<16 | uint32(raw[1])
		return float64(int32(combined)) * d.scale(), nil

	case TypeUint32:
		combined := uint32(raw[0])<<16 | uint32(raw[1])
		return float64(combined) * d.scale(), nil

	case TypeFloat:
		combined := uint32(raw[0])<<16 | uint32(raw[1])
		return float64(math.Float32frombits(combined)) * d.scale(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, d.DataType)
	}
}

// Encode converts an engineering value into raw register words, the
// inverse of Decode: the value is divided by the descriptor's scaling and
// rounded to the nearest representable wire unit for the target width.
//
// Callers must not write partial registers when Encode fails; the returned
// slice is complete or the error is terminal for the operation.
//
// Parameters:
//   - value: bool for boolean registers, any numeric type otherwise
//   - d: Descriptor giving data type and scaling
//
// Returns:
//   - []uint16: Wire words, most significant first for two-word types
//   - error: ErrNotNumeric, ErrValueRange, or ErrUnsupportedType
func Encode(value any, d RegisterDescriptor) ([]uint16, error) {
	if d.DataType == TypeBoolean {
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: boolean register needs bool, got %T", ErrNotNumeric, value)
		}
		if b {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	}

	f, ok := toFloat(value)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotNumeric, value)
	}

	scaled := math.Round(f / d.scale())

	switch d.DataType {
	case TypeInt16:
		if scaled < math.MinInt16 || scaled > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %v does not fit int16", ErrValueRange, scaled)
		}
		return []uint16{uint16(int16(scaled))}, nil

	case TypeUint16:
		if scaled < 0 || scaled > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %v does not fit uint16", ErrValueRange, scaled)
		}
		return []uint16{uint16(scaled)}, nil

	case TypeInt32:
		if scaled < math.MinInt32 || scaled > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %v does not fit int32", ErrValueRange, scaled)
		}
		combined := uint32(int32(scaled))
		return []uint16{uint16(combined >> 16), uint16(combined)}, nil

	case TypeUint32:
		if scaled < 0 || scaled > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %v does not fit uint32", ErrValueRange, scaled)
		}
		combined := uint32(scaled)
		return []uint16{uint16(combined >> 16), uint16(combined)}, nil

	case TypeFloat:
		combined := math.Float32bits(float32(f / d.scale()))
		return []uint16{uint16(combined >> 16), uint16(combined)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, d.DataType)
	}
}

// toFloat coerces supported numeric types to float64.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
