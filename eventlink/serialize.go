// File: eventlink/serialize.go
// Author: momentics <momentics@gmail.com>
//
// Default parameter serializers for diagnostic output. Resolution happens
// once, at dispatcher construction.

package eventlink

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"

	"github.com/momentics/hioload-events/api"
)

// ResolveSerializer picks a default ParamSerializer for P: integer kinds and
// strings serialize directly, class-typed parameters through fmt.Stringer or
// encoding.TextMarshaler. Anything else fails with ErrInvalidConfiguration,
// forcing the caller to supply an explicit serializer.
func ResolveSerializer[P any]() (api.ParamSerializer[P], error) {
	var probe P
	t := reflect.TypeOf(&probe).Elem()

	if t.Implements(stringerType) || reflect.PointerTo(t).Implements(stringerType) {
		return func(param *P) string {
			return any(param).(fmt.Stringer).String()
		}, nil
	}
	if t.Implements(textMarshalerType) || reflect.PointerTo(t).Implements(textMarshalerType) {
		return func(param *P) string {
			b, err := any(param).(encoding.TextMarshaler).MarshalText()
			if err != nil {
				return "<unserializable: " + err.Error() + ">"
			}
			return string(b)
		}, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(param *P) string {
			return strconv.FormatInt(reflect.ValueOf(*param).Int(), 10)
		}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(param *P) string {
			return strconv.FormatUint(reflect.ValueOf(*param).Uint(), 10)
		}, nil
	case reflect.String:
		return func(param *P) string {
			return reflect.ValueOf(*param).String()
		}, nil
	}

	return nil, api.NewError(api.ErrCodeInvalidConfiguration,
		"don't know how to serialize the event parameter type").
		WithContext("type", t.String())
}

var (
	stringerType      = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)
