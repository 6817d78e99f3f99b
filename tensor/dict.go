package tensor

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Dict is an insertion-ordered mapping of names to tensors, the shape of a
// model state dict.
type Dict = orderedmap.OrderedMap[string, *Tensor]

// NewDict returns an empty Dict.
func NewDict() *Dict {
	return orderedmap.New[string, *Tensor]()
}

// Keys lists the keys of d in order.
func Keys(d *Dict) []string {
	keys := make([]string, 0, d.Len())
	for p := d.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// CloneDict deep-copies every tensor of d.
func CloneDict(d *Dict) *Dict {
	out := orderedmap.New[string, *Tensor](orderedmap.WithCapacity[string, *Tensor](d.Len()))
	for p := d.Oldest(); p != nil; p = p.Next() {
		out.Set(p.Key, p.Value.Clone())
	}
	return out
}
