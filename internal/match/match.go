// Package match associates scraped rank rows with known guarantee targets.
package match

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/jtwolab/rankops/internal/model"
)

// Kind tags how a match was made.
type Kind int

const (
	Unmatched Kind = iota
	ByURLID
	ByExactName
	ByPartialName
	ByKeyword
	ByNameKeyword
)

func (k Kind) String() string {
	switch k {
	case ByURLID:
		return "url_id"
	case ByExactName:
		return "exact_name"
	case ByPartialName:
		return "partial_name"
	case ByKeyword:
		return "keyword"
	case ByNameKeyword:
		return "name_keyword"
	default:
		return "unmatched"
	}
}

// Outcome is the result of a lookup. Value is the zero T when Kind is
// Unmatched.
type Outcome[T any] struct {
	Kind  Kind
	Value T
}

// Matched reports whether any rule produced a candidate.
func (o Outcome[T]) Matched() bool { return o.Kind != Unmatched }

// Trusted reports whether the match is precise enough for write-back.
func (o Outcome[T]) Trusted() bool {
	return o.Kind == ByURLID || o.Kind == ByExactName || o.Kind == ByNameKeyword
}

// Query describes the row being matched.
type Query struct {
	PlaceID string
	URL     string
	Name    string
	Keyword string
}

func (q Query) placeID() string {
	if q.PlaceID != "" {
		return q.PlaceID
	}
	return model.ExtractPlaceID(q.URL)
}

// Keys identifies a candidate.
type Keys struct {
	PlaceID string
	Name    string
	Keyword string
}

type entry[T any] struct {
	keys  Keys
	name  string
	value T
}

// Index holds candidates in insertion order. Earlier candidates win ties.
type Index[T any] struct {
	entries   []entry[T]
	byID      map[string]int
	byIDKw    map[string]int
	byName    map[string]int
	byKeyword map[string]int
	byPair    map[string]int
}

// NewIndex builds an index over items using keyFn.
func NewIndex[T any](items []T, keyFn func(T) Keys) *Index[T] {
	idx := &Index[T]{
		byID:      make(map[string]int),
		byIDKw:    make(map[string]int),
		byName:    make(map[string]int),
		byKeyword: make(map[string]int),
		byPair:    make(map[string]int),
	}
	for _, it := range items {
		idx.Add(it, keyFn(it))
	}
	return idx
}

// Add registers one candidate. Later duplicates of an existing key are
// reachable only through the scan rules.
func (idx *Index[T]) Add(v T, k Keys) {
	name := Normalize(k.Name)
	kw := Normalize(k.Keyword)
	i := len(idx.entries)
	idx.entries = append(idx.entries, entry[T]{keys: k, name: name, value: v})

	putFirst(idx.byID, k.PlaceID, i)
	if k.PlaceID != "" && kw != "" {
		putFirst(idx.byIDKw, k.PlaceID+"|"+kw, i)
	}
	putFirst(idx.byName, name, i)
	putFirst(idx.byKeyword, kw, i)
	if name != "" && kw != "" {
		putFirst(idx.byPair, name+"|"+kw, i)
	}
}

// Len is the number of candidates.
func (idx *Index[T]) Len() int { return len(idx.entries) }

// Resolve applies the crawler precedence: place id, exact name, substring in
// either direction, then keyword. A keyword on the query picks among
// candidates sharing an id or a name.
func (idx *Index[T]) Resolve(q Query) Outcome[T] {
	if i, ok := idx.byPlace(q); ok {
		return idx.hit(ByURLID, i)
	}

	name := Normalize(q.Name)
	if name != "" {
		if kw := Normalize(q.Keyword); kw != "" {
			if i, ok := idx.byPair[name+"|"+kw]; ok {
				return idx.hit(ByExactName, i)
			}
		}
		if i, ok := idx.byName[name]; ok {
			return idx.hit(ByExactName, i)
		}
		for i, e := range idx.entries {
			if e.name == "" {
				continue
			}
			if strings.Contains(e.name, name) || strings.Contains(name, e.name) {
				return idx.hit(ByPartialName, i)
			}
		}
	}

	if kw := Normalize(q.Keyword); kw != "" {
		if i, ok := idx.byKeyword[kw]; ok {
			return idx.hit(ByKeyword, i)
		}
	}
	return Outcome[T]{}
}

// ResolveStrict applies the write-back precedence: place id, then the exact
// (name, keyword) pair.
func (idx *Index[T]) ResolveStrict(q Query) Outcome[T] {
	if i, ok := idx.byPlace(q); ok {
		return idx.hit(ByURLID, i)
	}
	name, kw := Normalize(q.Name), Normalize(q.Keyword)
	if name != "" && kw != "" {
		if i, ok := idx.byPair[name+"|"+kw]; ok {
			return idx.hit(ByNameKeyword, i)
		}
	}
	return Outcome[T]{}
}

// byPlace looks up the place id, preferring the candidate that also carries
// the query keyword.
func (idx *Index[T]) byPlace(q Query) (int, bool) {
	id := q.placeID()
	if id == "" {
		return 0, false
	}
	if kw := Normalize(q.Keyword); kw != "" {
		if i, ok := idx.byIDKw[id+"|"+kw]; ok {
			return i, true
		}
	}
	i, ok := idx.byID[id]
	return i, ok
}

func (idx *Index[T]) hit(k Kind, i int) Outcome[T] {
	return Outcome[T]{Kind: k, Value: idx.entries[i].value}
}

// Normalize folds a business name or keyword for comparison: NFC, full-width
// to half-width, trimmed, inner whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = width.Narrow.String(s)
	return strings.Join(strings.Fields(s), " ")
}

func putFirst(m map[string]int, key string, i int) {
	if key == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = i
	}
}
