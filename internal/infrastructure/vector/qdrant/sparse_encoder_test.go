package qdrant

import (
	"fmt"
	"strings"
	"testing"
)

func TestEncodeSparseIsDeterministicAndSorted(t *testing.T) {
	v1 := encodeSparse("Syarat KTP-el menurut Pasal 63 UU 24/2013")
	v2 := encodeSparse("Syarat KTP-el menurut Pasal 63 UU 24/2013")
	if fmt.Sprint(v1) != fmt.Sprint(v2) {
		t.Fatalf("encoding not deterministic: %v vs %v", v1, v2)
	}
	for i := 1; i < len(v1.Indices); i++ {
		if v1.Indices[i-1] >= v1.Indices[i] {
			t.Fatalf("indices not strictly ascending at %d: %v", i, v1.Indices)
		}
	}
}

func TestEncodeSparseSaturatesRepeatedTerms(t *testing.T) {
	v := encodeSparse("ktp ktp ktp kk")
	if len(v.Indices) != 2 {
		t.Fatalf("expected 2 terms, got %v", v)
	}
	ktp := v.Values[indexOf(v, termIndex("ktp"))]
	kk := v.Values[indexOf(v, termIndex("kk"))]
	if kk != 1 {
		t.Fatalf("single occurrence should weigh 1, got %v", kk)
	}
	if ktp <= kk || ktp >= float32(bm25K+1) {
		t.Fatalf("repeated term weight %v should sit between 1 and %v", ktp, bm25K+1)
	}
}

func TestEncodeSparseMatchesDomainTokenizer(t *testing.T) {
	v := encodeSparse("Akta KELAHIRAN")
	if indexOf(v, termIndex("akta")) < 0 || indexOf(v, termIndex("kelahiran")) < 0 {
		t.Fatalf("expected lowercase tokens, got %v", v)
	}
}

func TestEncodeSparseKeepsMostFrequentTerms(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxSparseTerms+10; i++ {
		fmt.Fprintf(&b, "t%d ", i)
	}
	b.WriteString("ktp ktp")
	v := encodeSparse(b.String())
	if len(v.Indices) != maxSparseTerms {
		t.Fatalf("expected %d terms, got %d", maxSparseTerms, len(v.Indices))
	}
	if indexOf(v, termIndex("ktp")) < 0 {
		t.Fatalf("most frequent term was dropped")
	}
}

func TestEncodeSparseEmptyForPunctuation(t *testing.T) {
	if v := encodeSparse("___---!!!"); len(v.Indices) != 0 || len(v.Values) != 0 {
		t.Fatalf("expected empty vector, got %+v", v)
	}
}

func indexOf(v sparseVector, idx uint32) int {
	for i, got := range v.Indices {
		if got == idx {
			return i
		}
	}
	return -1
}
