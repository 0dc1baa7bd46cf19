package sgcl

import (
	"reflect"
	"testing"

	"github.com/unixpickle/serializer"
)

func TestWordMapLayout(t *testing.T) {
	w := NewWordMap([]string{"a", "cat", "sat"})
	if w.Len() != 7 {
		t.Errorf("length should be 7 but got %d", w.Len())
	}
	if w.Pad() != 0 {
		t.Errorf("pad id should be 0 but got %d", w.Pad())
	}
	if w.ID("cat") != 2 {
		t.Errorf("id should be 2 but got %d", w.ID("cat"))
	}
	if w.ID("dog") != w.ID(UnkToken) {
		t.Error("unknown words should map to the unknown token")
	}
	if w.Start() != 5 || w.End() != 6 {
		t.Errorf("unexpected sentinel ids: %d %d", w.Start(), w.End())
	}
}

func TestWordMapEncodeDecode(t *testing.T) {
	w := NewWordMap([]string{"a", "cat", "sat"})
	ids, length := w.Encode([]string{"a", "cat"}, 4)
	if length != 4 {
		t.Errorf("length should be 4 but got %d", length)
	}
	expected := []int{w.Start(), 1, 2, w.End(), 0, 0}
	if !reflect.DeepEqual(ids, expected) {
		t.Errorf("ids should be %v but got %v", expected, ids)
	}
	decoded := w.Decode(ids)
	if !reflect.DeepEqual(decoded, []string{"a", "cat"}) {
		t.Errorf("unexpected decode: %v", decoded)
	}
}

func TestWordMapSerialize(t *testing.T) {
	w := NewWordMap([]string{"a", "cat", "sat"})
	data, err := serializer.SerializeAny(w)
	if err != nil {
		t.Fatal(err)
	}
	var w1 *WordMap
	if err := serializer.DeserializeAny(data, &w1); err != nil {
		t.Fatal(err)
	}
	if w1.Len() != w.Len() || w1.ID("sat") != w.ID("sat") {
		t.Error("round trip changed the mapping")
	}
}
