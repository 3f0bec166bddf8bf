// File: api/serializer.go
// Author: momentics <momentics@gmail.com>
//
// Parameter serialization contract for diagnostic output.

package api

// ParamSerializer renders an event parameter for diagnostic lines. The
// dispatcher resolves a default serializer for integer, string-convertible
// and Stringer/TextMarshaler parameter types; anything else requires an
// explicit serializer or fails construction.
type ParamSerializer[P any] func(param *P) string
