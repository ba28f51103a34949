package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const classMagic = 0xCAFEBABE

// Class file version bounds accepted by the parser (JDK 1.1 .. JDK 26).
const (
	minMajorVersion = 45
	maxMajorVersion = 70
)

// Access flags read from the class file header.
const (
	AccPublic     uint16 = 0x0001
	AccFinal      uint16 = 0x0010
	AccInterface  uint16 = 0x0200
	AccAbstract   uint16 = 0x0400
	AccSynthetic  uint16 = 0x1000
	AccAnnotation uint16 = 0x2000
	AccEnum       uint16 = 0x4000
	AccModule     uint16 = 0x8000
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

var (
	ErrMalformedClass     = errors.New("malformed class file")
	ErrUnsupportedVersion = errors.New("unsupported class file version")
)

// ClassInfo is the part of a class file header discovery cares about.
// Names are in internal form (slash separated).
type ClassInfo struct {
	Name         string
	SuperName    string // empty only for java/lang/Object and module-info
	Interfaces   []string
	AccessFlags  uint16
	MajorVersion uint16
}

// Instantiable reports whether the class can be constructed directly.
func (c *ClassInfo) Instantiable() bool {
	const excluded = AccInterface | AccAbstract | AccAnnotation | AccModule | AccSynthetic
	return c.AccessFlags&excluded == 0
}

type cpEntry struct {
	tag  byte
	utf8 string
	ref  uint16 // name index for tagClass
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) u1() (byte, error) {
	if r.off+1 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedClass, r.off)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u2() (uint16, error) {
	if r.off+2 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedClass, r.off)
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u4() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedClass, r.off)
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) skip(n int) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("%w: truncated at offset %d", ErrMalformedClass, r.off)
	}
	r.off += n
	return nil
}

// ParseClass decodes the header of a class file up to and including the
// interface table. Fields, methods and attributes are not read.
func ParseClass(data []byte) (*ClassInfo, error) {
	r := &reader{buf: data}

	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != classMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrMalformedClass, magic)
	}
	if _, err := r.u2(); err != nil { // minor
		return nil, err
	}
	major, err := r.u2()
	if err != nil {
		return nil, err
	}
	if major < minMajorVersion || major > maxMajorVersion {
		return nil, fmt.Errorf("%w: major version %d", ErrUnsupportedVersion, major)
	}

	pool, err := readConstantPool(r)
	if err != nil {
		return nil, err
	}

	flags, err := r.u2()
	if err != nil {
		return nil, err
	}
	thisIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	superIdx, err := r.u2()
	if err != nil {
		return nil, err
	}

	info := &ClassInfo{AccessFlags: flags, MajorVersion: major}
	if info.Name, err = className(pool, thisIdx); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if superIdx != 0 {
		if info.SuperName, err = className(pool, superIdx); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}

	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	info.Interfaces = make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := className(pool, idx)
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		info.Interfaces = append(info.Interfaces, name)
	}

	return info, nil
}

func readConstantPool(r *reader) ([]cpEntry, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty constant pool", ErrMalformedClass)
	}

	pool := make([]cpEntry, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		pool[i].tag = tag

		switch tag {
		case tagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			start := r.off
			if err := r.skip(int(n)); err != nil {
				return nil, err
			}
			pool[i].utf8 = string(r.buf[start:r.off])
		case tagClass:
			if pool[i].ref, err = r.u2(); err != nil {
				return nil, err
			}
		case tagString, tagMethodType, tagModule, tagPackage:
			err = r.skip(2)
		case tagMethodHandle:
			err = r.skip(3)
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			err = r.skip(4)
		case tagLong, tagDouble:
			err = r.skip(8)
			i++ // 8-byte constants take two slots
		default:
			return nil, fmt.Errorf("%w: unknown constant pool tag %d at index %d", ErrMalformedClass, tag, i)
		}
		if err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func className(pool []cpEntry, idx uint16) (string, error) {
	if idx == 0 || int(idx) >= len(pool) || pool[idx].tag != tagClass {
		return "", fmt.Errorf("%w: constant %d is not a class reference", ErrMalformedClass, idx)
	}
	nameIdx := pool[idx].ref
	if nameIdx == 0 || int(nameIdx) >= len(pool) || pool[nameIdx].tag != tagUtf8 {
		return "", fmt.Errorf("%w: constant %d is not a utf8 name", ErrMalformedClass, nameIdx)
	}
	return pool[nameIdx].utf8, nil
}
