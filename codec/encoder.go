package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

// Encoder canonically encodes to a given io.Writer.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates a new encoder with the given writer.
func NewEncoder(writer io.Writer) *Encoder {
	return &Encoder{w: writer}
}

// Encode canonically encodes value to the encoder writer.
func (e *Encoder) Encode(value interface{}) error {
	return e.marshal(reflect.ValueOf(value))
}

func (e *Encoder) writeUint(v uint64, width int) error {
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	}
	_, err := e.w.Write(buf)
	return err
}

func (e *Encoder) marshal(v reflect.Value) error {
	if v.IsValid() && v.CanInterface() {
		if m, ok := v.Interface().(Marshaler); ok {
			b, err := m.MarshalCanonical()
			if err != nil {
				return err
			}
			_, err = e.w.Write(b)
			return err
		}
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("cannot encode nil pointer of type %s", v.Type())
		}
		return e.marshal(v.Elem())
	case reflect.Bool:
		if v.Bool() {
			return e.writeUint(1, 1)
		}
		return e.writeUint(0, 1)
	case reflect.Uint8:
		return e.writeUint(v.Uint(), 1)
	case reflect.Uint16:
		return e.writeUint(v.Uint(), 2)
	case reflect.Uint32:
		return e.writeUint(v.Uint(), 4)
	case reflect.Uint64, reflect.Uint:
		return e.writeUint(v.Uint(), 8)
	case reflect.String:
		s := v.String()
		if err := e.writeUint(uint64(len(s)), 4); err != nil {
			return err
		}
		_, err := io.WriteString(e.w, s)
		return err
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(buf), v)
			_, err := e.w.Write(buf)
			return err
		}
		for i := 0; i < v.Len(); i++ {
			if err := e.marshal(v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if err := e.writeUint(uint64(v.Len()), 4); err != nil {
			return err
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			_, err := e.w.Write(v.Bytes())
			return err
		}
		for i := 0; i < v.Len(); i++ {
			if err := e.marshal(v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).PkgPath != "" {
				continue // unexported
			}
			if err := e.marshal(v.Field(i)); err != nil {
				return fmt.Errorf("field %s.%s: %w", t.Name(), t.Field(i).Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
}
