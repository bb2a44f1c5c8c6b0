package mapping

import (
	"encoding"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"
)

// TagName is the struct tag read by the walker.
//
//	Name    string `graph:"fullName"`  // rename
//	Code    string `graph:",key"`      // business key, scoped to the type label
//	Scratch string `graph:"-"`         // skip
const TagName = "graph"

type fieldKind int

const (
	kindUnsupported fieldKind = iota
	kindScalar
	kindReference
	kindCollection
	kindDynamic
)

var (
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

type fieldInfo struct {
	name   string
	goName string
	index  []int
	kind   fieldKind
}

type typeInfo struct {
	name     string
	fields   []fieldInfo
	keyField int
}

var typeCache sync.Map // map[reflect.Type]*typeInfo

func cachedTypeInfo(t reflect.Type) *typeInfo {
	if ti, ok := typeCache.Load(t); ok {
		return ti.(*typeInfo)
	}
	ti, _ := typeCache.LoadOrStore(t, buildTypeInfo(t))
	return ti.(*typeInfo)
}

type candidate struct {
	fieldInfo
	depth int
	key   bool
}

func buildTypeInfo(t reflect.Type) *typeInfo {
	var found []candidate
	gatherFields(t, nil, 0, &found)

	shallowest := make(map[string]int, len(found))
	for _, c := range found {
		if d, ok := shallowest[c.name]; !ok || c.depth < d {
			shallowest[c.name] = c.depth
		}
	}

	ti := &typeInfo{name: t.Name(), keyField: -1}
	seen := make(map[string]bool, len(found))
	for _, c := range found {
		if seen[c.name] || c.depth != shallowest[c.name] {
			continue
		}
		seen[c.name] = true
		if c.key && ti.keyField < 0 && c.kind == kindScalar {
			ti.keyField = len(ti.fields)
		}
		ti.fields = append(ti.fields, c.fieldInfo)
	}
	return ti
}

func gatherFields(t reflect.Type, prefix []int, depth int, out *[]candidate) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get(TagName)
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		index := make([]int, len(prefix)+1)
		copy(index, prefix)
		index[len(prefix)] = i

		if sf.Anonymous && name == "" && sf.Type.Kind() == reflect.Struct && !isScalarType(sf.Type) {
			gatherFields(sf.Type, index, depth+1, out)
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = lowerCamel(sf.Name)
		}
		*out = append(*out, candidate{
			fieldInfo: fieldInfo{
				name:   name,
				goName: sf.Name,
				index:  index,
				kind:   classify(sf.Type),
			},
			depth: depth,
			key:   hasOption(opts, "key"),
		})
	}
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if strings.TrimSpace(opt) == want {
			return true
		}
	}
	return false
}

// classify decides how values of static type t are mapped.
func classify(t reflect.Type) fieldKind {
	if isScalarType(t) {
		return kindScalar
	}
	switch t.Kind() {
	case reflect.Pointer:
		if isStructType(t.Elem()) {
			return kindReference
		}
		if isScalarType(t.Elem()) {
			return kindScalar
		}
	case reflect.Interface:
		return kindDynamic
	case reflect.Slice, reflect.Array:
		el := t.Elem()
		if el.Kind() == reflect.Interface {
			return kindCollection
		}
		if el.Kind() == reflect.Pointer && isStructType(el.Elem()) {
			return kindCollection
		}
		if el.Kind() != reflect.Pointer && isScalarType(el) {
			return kindScalar
		}
	}
	return kindUnsupported
}

// isStructType reports whether t is a struct that maps to a node.
func isStructType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && !isScalarType(t) && !reflect.PointerTo(t).Implements(textMarshalerType)
}

func isScalarType(t reflect.Type) bool {
	if t == timeType || t.Implements(textMarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// lowerCamel lower-cases the leading word of a Go identifier:
// Name -> name, ID -> id, URLPath -> urlPath.
func lowerCamel(s string) string {
	r := []rune(s)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	if n > 1 && n < len(r) && unicode.IsLower(r[n]) {
		n--
	}
	for i := 0; i < n; i++ {
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}
