// Package mapping turns in-memory object graphs into graph batches.
package mapping

import (
	"context"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/2lar/graphsync/internal/domain/graph"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// Labeler adds labels after the type-name label.
type Labeler interface {
	GraphLabels() []string
}

// Keyed supplies a business key. ok=false means the object has none,
// and takes precedence over a `graph:",key"` field.
type Keyed interface {
	BusinessKey() (key string, ok bool)
}

// ctxCheckInterval is how many nodes are expanded between context checks.
const ctxCheckInterval = 256

// Result is the output of a successful walk.
type Result struct {
	Batch    graph.Batch
	Resolver *Resolver
	Roots    []graph.Identifier
}

// Walker maps object graphs to batches. It holds no per-call state and is
// safe for concurrent use.
type Walker struct {
	logger    *zap.Logger
	maxErrors int
}

// Option configures a Walker.
type Option func(*Walker)

// WithMaxErrors bounds how many errors one walk lists. Errors past the
// limit are counted in MultiError.Dropped. The default lists every error.
func WithMaxErrors(n int) Option {
	return func(w *Walker) {
		w.maxErrors = n
	}
}

// NewWalker creates a walker.
func NewWalker(logger *zap.Logger, opts ...Option) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Walker{logger: logger.Named("walker")}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type walkState struct {
	ctx      context.Context
	resolver *Resolver
	nodes    []graph.Node
	edges    []graph.Edge
	keys     map[graph.BusinessKey]graph.Identifier
	errs     *appErrors.Collector
	aborted  bool
	stack    []frame
}

// frame is an expanded node whose references are still being followed.
// Links are resolved one at a time so a target reached twice is expanded
// where the first link to it appears, as in a recursive depth-first walk.
type frame struct {
	from  graph.Identifier
	links []pendingLink
	next  int
}

type pendingLink struct {
	target  reflect.Value
	typ     string
	ordinal *int
	path    *pathSeg
}

// Walk visits every object reachable from roots depth-first, roots in order
// and fields in declaration order. Each distinct object becomes one node;
// every non-nil reference becomes one edge. All mapping problems across all
// roots are returned together; no Result is returned alongside an error.
func (w *Walker) Walk(ctx context.Context, roots []any) (*Result, error) {
	st := &walkState{
		ctx:      ctx,
		resolver: NewResolver(),
		keys:     make(map[graph.BusinessKey]graph.Identifier),
		errs:     appErrors.NewCollector(w.maxErrors),
	}

	rootIDs := make([]graph.Identifier, 0, len(roots))
	for i, root := range roots {
		if st.checkContext() {
			break
		}
		path := &pathSeg{name: "roots", index: i}
		v := reflect.ValueOf(root)
		if !isNodeValue(v) {
			st.errs.Add(appErrors.NewUnmappableTypeError(path.String(), typeString(v)))
			continue
		}
		id, isNew, _ := st.resolver.resolveValue(v)
		if isNew {
			st.expand(v, id, path)
			st.drain()
		}
		rootIDs = append(rootIDs, id)
	}

	if err := st.errs.ToError(); err != nil {
		w.logger.Debug("walk failed",
			zap.Int("roots", len(roots)),
			zap.Int("errors", len(appErrors.Flatten(err))),
			zap.Error(err))
		return nil, err
	}

	w.logger.Debug("walk complete",
		zap.Int("roots", len(roots)),
		zap.Int("nodes", len(st.nodes)),
		zap.Int("edges", len(st.edges)))

	return &Result{
		Batch:    graph.Batch{Nodes: st.nodes, Edges: st.edges},
		Resolver: st.resolver,
		Roots:    rootIDs,
	}, nil
}

func (st *walkState) checkContext() bool {
	if st.aborted {
		return true
	}
	if err := st.ctx.Err(); err != nil {
		st.errs.Add(appErrors.NewTimeoutError("walk").WithCause(err))
		st.aborted = true
	}
	return st.aborted
}

// drain follows pending links until every node reachable from the frames on
// the stack is expanded. Depth is bounded by memory, not the goroutine stack.
func (st *walkState) drain() {
	for len(st.stack) > 0 && !st.aborted {
		top := &st.stack[len(st.stack)-1]
		if top.next == len(top.links) {
			st.stack = st.stack[:len(st.stack)-1]
			continue
		}
		l := top.links[top.next]
		top.next++
		st.link(top.from, l)
	}
	st.stack = st.stack[:0]
}

// expand emits the node for v (already resolved to id), maps its scalar
// fields and pushes a frame for its references. The node is appended before
// any reference is followed so cycles terminate at the resolver.
func (st *walkState) expand(v reflect.Value, id graph.Identifier, path *pathSeg) {
	if st.aborted || (len(st.nodes)%ctxCheckInterval == 0 && st.checkContext()) {
		return
	}

	elem := v.Elem()
	info := cachedTypeInfo(elem.Type())
	labels := labelsFor(v, info)
	if len(labels) == 0 {
		st.errs.Add(appErrors.NewUnmappableTypeError(path.String(), elem.Type().String()))
	}

	props := make(map[string]any, len(info.fields))
	idx := len(st.nodes)
	st.nodes = append(st.nodes, graph.Node{ID: id, Labels: labels, Properties: props})

	if len(labels) > 0 {
		if value, ok := st.businessKey(v, elem, info, path); ok {
			key := graph.BusinessKey{Label: labels[0], Value: value}
			if _, dup := st.keys[key]; dup {
				st.errs.Add(appErrors.NewAmbiguousKeyError(key.Label, key.Value).
					WithDetails(map[string]interface{}{"path": path.String()}))
			} else {
				st.keys[key] = id
				st.nodes[idx].Key = &key
			}
		}
	}

	var links []pendingLink
	for _, f := range info.fields {
		fv := elem.FieldByIndex(f.index)
		st.mapValue(&links, props, f.name, f.kind, fv, path.child(f.goName))
	}
	if len(links) > 0 {
		st.stack = append(st.stack, frame{from: id, links: links})
	}
}

// mapValue stores scalars in props and queues references in links.
func (st *walkState) mapValue(links *[]pendingLink, props map[string]any, name string, kind fieldKind, v reflect.Value, path *pathSeg) {
	switch kind {
	case kindScalar:
		if isNilable(v) && v.IsNil() {
			return
		}
		value, ok := toScalar(v)
		if !ok {
			st.errs.Add(appErrors.NewUnmappableTypeError(path.String(), v.Type().String()))
			return
		}
		props[name] = value

	case kindReference:
		if v.IsNil() {
			return
		}
		*links = append(*links, pendingLink{target: v, typ: name, path: path})

	case kindCollection:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return
		}
		for i := 0; i < v.Len(); i++ {
			el := v.Index(i)
			if el.Kind() == reflect.Interface {
				if el.IsNil() {
					continue
				}
				el = el.Elem()
			}
			if el.Kind() == reflect.Pointer && el.IsNil() {
				continue
			}
			elPath := path.at(i)
			if !isNodeValue(el) {
				st.errs.Add(appErrors.NewUnmappableTypeError(elPath.String(), el.Type().String()))
				continue
			}
			ordinal := i
			*links = append(*links, pendingLink{target: el, typ: name, ordinal: &ordinal, path: elPath})
		}

	case kindDynamic:
		if v.IsNil() {
			return
		}
		inner := v.Elem()
		st.mapValue(links, props, name, classify(inner.Type()), inner, path)

	default:
		if v.IsZero() {
			return
		}
		st.errs.Add(appErrors.NewUnmappableTypeError(path.String(), v.Type().String()))
	}
}

// link emits the edge to l.target before expanding it, so edges of a node
// appear in field order regardless of what the target reaches.
func (st *walkState) link(from graph.Identifier, l pendingLink) {
	to, isNew, ok := st.resolver.resolveValue(l.target)
	if !ok {
		st.errs.Add(appErrors.NewUnmappableTypeError(l.path.String(), typeString(l.target)))
		return
	}
	st.edges = append(st.edges, graph.Edge{From: from, To: to, Type: l.typ, Ordinal: l.ordinal})
	if isNew {
		st.expand(l.target, to, l.path)
	}
}

func (st *walkState) businessKey(v, elem reflect.Value, info *typeInfo, path *pathSeg) (string, bool) {
	if v.CanInterface() {
		if keyed, ok := v.Interface().(Keyed); ok {
			key, has := keyed.BusinessKey()
			return key, has && key != ""
		}
	}
	if info.keyField < 0 {
		return "", false
	}
	f := info.fields[info.keyField]
	fv := elem.FieldByIndex(f.index)
	if fv.IsZero() {
		return "", false
	}
	value, ok := toScalar(fv)
	if !ok {
		st.errs.Add(appErrors.NewUnmappableTypeError(path.child(f.goName).String(), fv.Type().String()))
		return "", false
	}
	key := keyString(value)
	return key, key != ""
}

func labelsFor(v reflect.Value, info *typeInfo) []string {
	var labels []string
	if info.name != "" {
		labels = append(labels, info.name)
	}
	if !v.CanInterface() {
		return labels
	}
	labeler, ok := v.Interface().(Labeler)
	if !ok {
		return labels
	}
	for _, l := range labeler.GraphLabels() {
		if l == "" || containsString(labels, l) {
			continue
		}
		labels = append(labels, l)
	}
	return labels
}

// isNodeValue reports whether v is a non-nil pointer to a mappable struct.
func isNodeValue(v reflect.Value) bool {
	return v.IsValid() && v.Kind() == reflect.Pointer && !v.IsNil() && isStructType(v.Type().Elem())
}

func isNilable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Interface, reflect.Map:
		return true
	}
	return false
}

func typeString(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return v.Type().String() + "(nil)"
	}
	return v.Type().String()
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// pathSeg is a lazily rendered field path used only in error messages.
type pathSeg struct {
	parent *pathSeg
	name   string
	index  int
}

func (p *pathSeg) child(name string) *pathSeg {
	return &pathSeg{parent: p, name: name, index: -1}
}

func (p *pathSeg) at(i int) *pathSeg {
	return &pathSeg{parent: p, index: i}
}

func (p *pathSeg) String() string {
	var segs []*pathSeg
	for s := p; s != nil; s = s.parent {
		segs = append(segs, s)
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		s := segs[i]
		if s.name != "" {
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s.name)
		}
		if s.index >= 0 {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.index))
			b.WriteByte(']')
		}
	}
	return b.String()
}
