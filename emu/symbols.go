package emu

import (
	"sort"

	lru "github.com/hashicorp/golang-lru"
)

// number of pc to function lookups remembered
const symbolCacheSize = 256

type resolved struct {
	sym Symbol
	ok  bool
}

// SymbolTable maps names to functions and addresses back to the function
// containing them.
type SymbolTable struct {
	byAddr []Symbol
	byName map[string]Symbol
	cache  *lru.ARCCache
}

func NewSymbolTable(syms []Symbol) *SymbolTable {
	t := &SymbolTable{
		byAddr: append([]Symbol(nil), syms...),
		byName: make(map[string]Symbol, len(syms)),
	}
	sort.Slice(t.byAddr, func(i, j int) bool {
		return t.byAddr[i].Addr < t.byAddr[j].Addr
	})
	for _, s := range syms {
		if _, ok := t.byName[s.Name]; !ok {
			t.byName[s.Name] = s
		}
	}
	// only fails for a non-positive size
	t.cache, _ = lru.NewARC(symbolCacheSize)
	return t
}

// Lookup finds a function by name.
func (t *SymbolTable) Lookup(name string) (Symbol, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// Len is the number of functions in the table.
func (t *SymbolTable) Len() int { return len(t.byAddr) }

// Resolve finds the function whose body contains addr.
func (t *SymbolTable) Resolve(addr uint64) (Symbol, bool) {
	if v, ok := t.cache.Get(addr); ok {
		r := v.(resolved)
		return r.sym, r.ok
	}

	var r resolved
	i := sort.Search(len(t.byAddr), func(i int) bool {
		return t.byAddr[i].Addr > addr
	})
	if i > 0 {
		s := t.byAddr[i-1]
		if addr < s.Addr+s.Size || (s.Size == 0 && addr == s.Addr) {
			r = resolved{sym: s, ok: true}
		}
	}
	t.cache.Add(addr, r)
	return r.sym, r.ok
}
