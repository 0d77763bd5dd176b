package similarity

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// term is one non-zero component of a sparse vector
type term struct {
	index  int
	weight float64
}

// vector is a sparse, L2-normalized TF-IDF vector sorted by term index
type vector []term

// tokenize lowercases text and splits it on anything but letters and digits
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// vectorize builds TF-IDF vectors with smoothed idf: ln((1+n)/(1+df)) + 1
func vectorize(docs []string) []vector {
	vocab := make(map[string]int)
	counts := make([]map[int]int, len(docs))
	df := make([]int, 0, 64)

	for d, doc := range docs {
		tf := make(map[int]int)
		for _, tok := range tokenize(doc) {
			idx, ok := vocab[tok]
			if !ok {
				idx = len(vocab)
				vocab[tok] = idx
				df = append(df, 0)
			}
			if tf[idx] == 0 {
				df[idx]++
			}
			tf[idx]++
		}
		counts[d] = tf
	}

	n := float64(len(docs))
	idf := make([]float64, len(df))
	for i, f := range df {
		idf[i] = math.Log((1+n)/(1+float64(f))) + 1
	}

	vectors := make([]vector, len(docs))
	for d, tf := range counts {
		v := make(vector, 0, len(tf))
		for idx, c := range tf {
			v = append(v, term{index: idx, weight: float64(c) * idf[idx]})
		}
		// sum in index order: identical documents must get bit-identical
		// vectors or equal scores stop comparing equal
		sort.Slice(v, func(i, j int) bool { return v[i].index < v[j].index })
		var norm float64
		for _, t := range v {
			norm += t.weight * t.weight
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for i := range v {
				v[i].weight /= norm
			}
		}
		vectors[d] = v
	}
	return vectors
}

// cosine of two normalized vectors is their dot product
func cosine(a, b vector) float64 {
	var dot float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].index == b[j].index:
			dot += a[i].weight * b[j].weight
			i++
			j++
		case a[i].index < b[j].index:
			i++
		default:
			j++
		}
	}
	return dot
}
