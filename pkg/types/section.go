package types

import "sort"

// NameSet is a set of XorNames.
type NameSet map[XorName]struct{}

func NewNameSet(names ...XorName) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s NameSet) Has(n XorName) bool {
	_, ok := s[n]
	return ok
}

func (s NameSet) Add(n XorName) {
	s[n] = struct{}{}
}

func (s NameSet) Remove(n XorName) {
	delete(s, n)
}

func (s NameSet) Clone() NameSet {
	c := make(NameSet, len(s))
	for n := range s {
		c[n] = struct{}{}
	}
	return c
}

// Sorted returns the member names in ascending byte order.
func (s NameSet) Sorted() []XorName {
	names := make([]XorName, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return lessName(names[i], names[j])
	})
	return names
}

func lessName(a, b XorName) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// SectionView is the read-only membership snapshot handed to the core by the
// (external) membership layer.
type SectionView struct {
	Prefix  string // address-space bit prefix, e.g. "01"
	Members NameSet
	Elders  NameSet
}

// MatchesPrefix reports whether a name falls under the section's prefix.
func MatchesPrefix(prefix string, n XorName) bool {
	for i, c := range prefix {
		byteIdx := i / 8
		bit := (n[byteIdx] >> (7 - uint(i%8))) & 1
		if (c == '1') != (bit == 1) {
			return false
		}
	}
	return true
}
