// Package codec wraps encoding/gob for the values toyraft persists to disk,
// warning the first time a type is encoded or decoded about field
// capitalization mistakes that would otherwise silently fail to round-trip
// through gob.
package codec

import (
	"bytes"
	"encoding/gob"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

var (
	mu      sync.Mutex
	checked = map[reflect.Type]bool{}
)

// Encode gob-encodes v into a byte slice suitable for a bbolt value.
func Encode(v interface{}) ([]byte, error) {
	checkType(reflect.TypeOf(v))
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes b into v, which must be a pointer.
func Decode(b []byte, v interface{}) error {
	checkType(reflect.TypeOf(v))
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// checkType recursively warns about lower-case struct fields, which gob
// silently drops on encode and leaves zero-valued on decode.
func checkType(t reflect.Type) {
	if t == nil {
		return
	}
	mu.Lock()
	if checked[t] {
		mu.Unlock()
		return
	}
	checked[t] = true
	mu.Unlock()

	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			r, _ := utf8.DecodeRuneInString(f.Name)
			if !unicode.IsUpper(r) {
				log.Warn().Str("field", f.Name).Str("type", t.Name()).
					Msg("codec: lower-case field won't survive gob encode/decode")
			}
			checkType(f.Type)
		}
	case reflect.Slice, reflect.Array, reflect.Ptr:
		checkType(t.Elem())
	case reflect.Map:
		checkType(t.Elem())
		checkType(t.Key())
	}
}
