package hos

import (
	"strings"
)

// ============================================================================
// Scalar Convenience Accessors
// ============================================================================
//
// Get0x/Put0x read and write single values through the same conversion
// matrix as mapped access, so the bad-value and saturation rules are
// identical whether a pipeline maps a million-element array or reads one
// calibration constant. They operate on scalar primitive objects and on
// single-element views (a rank-0 slice of an array).

// get0 reads the object's single element converted to typ.
func (l *Locator) get0(typ DataType) (any, error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return nil, err
	}
	stored := DataType(obj.rec.Type)
	if !stored.IsPrimitive() {
		return nil, errf(ErrTypeMismatch, obj.rec.Name, "structure objects hold no value")
	}
	if n := l.viewElements(obj); n != 1 {
		return nil, errf(ErrInvalidShape, obj.rec.Name,
			"scalar access requires a scalar object or single-element view")
	}
	if !Convertible(stored, typ) {
		return nil, errf(ErrTypeMismatch, obj.rec.Name,
			"no conversion defined from "+string(stored)+" to "+string(typ))
	}

	raw, err := c.readStored(obj, l.sect)
	if err != nil {
		return nil, err
	}
	storedBuf, err := decodeElems(stored, raw, 1)
	if err != nil {
		return nil, err
	}
	out, err := allocBuffer(typ, 1)
	if err != nil {
		return nil, err
	}
	if err := convert(stored, storedBuf, typ, out, 1); err != nil {
		return nil, err
	}
	return out, nil
}

// put0 writes a single value converted from typ into the object.
func (l *Locator) put0(typ DataType, buf any) error {
	if l == nil || !l.valid {
		return errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return err
	}
	if err := c.requireWritable(); err != nil {
		return err
	}
	stored := DataType(obj.rec.Type)
	if !stored.IsPrimitive() {
		return errf(ErrTypeMismatch, obj.rec.Name, "structure objects hold no value")
	}
	if n := l.viewElements(obj); n != 1 {
		return errf(ErrInvalidShape, obj.rec.Name,
			"scalar access requires a scalar object or single-element view")
	}
	if !Convertible(typ, stored) {
		return errf(ErrTypeMismatch, obj.rec.Name,
			"no conversion defined from "+string(typ)+" to stored "+string(stored))
	}

	storedBuf, err := allocBuffer(stored, 1)
	if err != nil {
		return err
	}
	if err := convert(typ, buf, stored, storedBuf, 1); err != nil {
		return err
	}
	raw, err := encodeElems(stored, storedBuf)
	if err != nil {
		return err
	}
	return c.writeStored(obj, l.sect, raw)
}

// Get0I reads the value as _INTEGER.
func (l *Locator) Get0I() (int32, error) {
	v, err := l.get0(TypeInteger)
	if err != nil {
		return 0, err
	}
	return v.([]int32)[0], nil
}

// Get0K reads the value as _INT64.
func (l *Locator) Get0K() (int64, error) {
	v, err := l.get0(TypeInt64)
	if err != nil {
		return 0, err
	}
	return v.([]int64)[0], nil
}

// Get0R reads the value as _REAL.
func (l *Locator) Get0R() (float32, error) {
	v, err := l.get0(TypeReal)
	if err != nil {
		return 0, err
	}
	return v.([]float32)[0], nil
}

// Get0D reads the value as _DOUBLE.
func (l *Locator) Get0D() (float64, error) {
	v, err := l.get0(TypeDouble)
	if err != nil {
		return 0, err
	}
	return v.([]float64)[0], nil
}

// Get0L reads the value as a logical. A stored bad value reports an
// error-free false; callers needing to distinguish bad read the _INTEGER
// representation.
func (l *Locator) Get0L() (bool, error) {
	v, err := l.get0(TypeLogical)
	if err != nil {
		return false, err
	}
	raw := v.([]int32)[0]
	return raw != 0 && raw != BadLogical, nil
}

// Get0C reads the value of a character object, with trailing padding
// spaces removed.
func (l *Locator) Get0C() (string, error) {
	if l == nil || !l.valid {
		return "", errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	t, err := l.Type()
	if err != nil {
		return "", err
	}
	if !t.IsChar() {
		return "", errf(ErrTypeMismatch, "", "Get0C requires a character object")
	}
	v, err := l.get0(t)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(v.([]byte)), " "), nil
}

// Put0I writes the value from an _INTEGER.
func (l *Locator) Put0I(v int32) error { return l.put0(TypeInteger, []int32{v}) }

// Put0K writes the value from an _INT64.
func (l *Locator) Put0K(v int64) error { return l.put0(TypeInt64, []int64{v}) }

// Put0R writes the value from a _REAL.
func (l *Locator) Put0R(v float32) error { return l.put0(TypeReal, []float32{v}) }

// Put0D writes the value from a _DOUBLE.
func (l *Locator) Put0D(v float64) error { return l.put0(TypeDouble, []float64{v}) }

// Put0L writes a logical value.
func (l *Locator) Put0L(v bool) error {
	iv := int32(0)
	if v {
		iv = 1
	}
	return l.put0(TypeLogical, []int32{iv})
}

// Put0C writes a character value, space-padded or truncated to the
// stored length.
func (l *Locator) Put0C(v string) error {
	if l == nil || !l.valid {
		return errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	t, err := l.Type()
	if err != nil {
		return err
	}
	n := t.CharLen()
	if n == 0 {
		return errf(ErrTypeMismatch, "", "Put0C requires a character object")
	}
	buf := make([]byte, n)
	copy(buf, v)
	for i := len(v); i < n; i++ {
		buf[i] = ' '
	}
	return l.put0(t, buf)
}
