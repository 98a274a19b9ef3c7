package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

// Decoder canonically decodes from a given io.Reader.
type Decoder struct {
	r io.Reader
}

// NewDecoder creates a new decoder with the given reader.
func NewDecoder(reader io.Reader) *Decoder {
	return &Decoder{r: reader}
}

// Decode populates the object pointed to by target from the reader.
func (d *Decoder) Decode(target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", target)
	}
	return d.unmarshal(v.Elem())
}

func (d *Decoder) readUint(width int) (uint64, error) {
	buf := make([]byte, width)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	default:
		return binary.LittleEndian.Uint64(buf), nil
	}
}

// maxLen bounds length prefixes so that a corrupt record cannot force a huge
// allocation.
const maxLen = 1 << 26

func (d *Decoder) unmarshal(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return d.unmarshal(v.Elem())
	case reflect.Bool:
		n, err := d.readUint(1)
		if err != nil {
			return err
		}
		v.SetBool(n == 1)
		return nil
	case reflect.Uint8:
		n, err := d.readUint(1)
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Uint16:
		n, err := d.readUint(2)
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Uint32:
		n, err := d.readUint(4)
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Uint64, reflect.Uint:
		n, err := d.readUint(8)
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.String:
		n, err := d.readUint(4)
		if err != nil {
			return err
		}
		if n > maxLen {
			return fmt.Errorf("string length %d exceeds limit", n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return err
		}
		v.SetString(string(buf))
		return nil
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, v.Len())
			if _, err := io.ReadFull(d.r, buf); err != nil {
				return err
			}
			reflect.Copy(v, reflect.ValueOf(buf))
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := d.unmarshal(v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		n, err := d.readUint(4)
		if err != nil {
			return err
		}
		if n > maxLen {
			return fmt.Errorf("slice length %d exceeds limit", n)
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, n)
			if _, err := io.ReadFull(d.r, buf); err != nil {
				return err
			}
			v.SetBytes(buf)
			return nil
		}
		slice := reflect.MakeSlice(v.Type(), int(n), int(n))
		for i := 0; i < int(n); i++ {
			if err := d.unmarshal(slice.Index(i)); err != nil {
				return err
			}
		}
		v.Set(slice)
		return nil
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).PkgPath != "" {
				continue
			}
			if err := d.unmarshal(v.Field(i)); err != nil {
				return fmt.Errorf("field %s.%s: %w", t.Name(), t.Field(i).Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
}
