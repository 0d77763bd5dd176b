package similarity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/model"
)

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "videos.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestGenerate_ThreeDistinctRows(t *testing.T) {
	path := writeCSV(t,
		"id,title,description,categories,tags",
		"1,Space Odyssey,astronauts travel to jupiter,scifi,space",
		"2,Baking Bread,how to bake sourdough bread,cooking,food",
		"3,Mars Mission,astronauts land on mars,scifi,space",
	)

	recs, err := NewEngine(DefaultConfig()).Generate(context.Background(), path, 2)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	for i, r := range recs {
		assert.Equal(t, int64(i+1), r.ID, "input order and ids are preserved")
		assert.Len(t, r.RecommendedIDs, 2)
		assert.NotContains(t, r.RecommendedIDs, r.ID)
	}
	// the two space rows are each other's best match
	assert.Equal(t, int64(3), recs[0].RecommendedIDs[0])
	assert.Equal(t, int64(1), recs[2].RecommendedIDs[0])
}

func TestRank_DescendingSimilarity(t *testing.T) {
	items := []Item{
		{ID: 10, Text: "red apple fruit"},
		{ID: 20, Text: "red apple"},
		{ID: 30, Text: "red car"},
		{ID: 40, Text: "blue ocean"},
	}

	recs, err := NewEngine(Config{Workers: 2}).Rank(context.Background(), items, 3)
	require.NoError(t, err)

	vectors := vectorize([]string{items[0].Text, items[1].Text, items[2].Text, items[3].Text})
	rowOf := map[int64]int{10: 0, 20: 1, 30: 2, 40: 3}
	for i, r := range recs {
		require.Len(t, r.RecommendedIDs, 3)
		for k := 1; k < len(r.RecommendedIDs); k++ {
			prev := cosine(vectors[i], vectors[rowOf[r.RecommendedIDs[k-1]]])
			cur := cosine(vectors[i], vectors[rowOf[r.RecommendedIDs[k]]])
			assert.GreaterOrEqual(t, prev, cur)
		}
	}
	assert.Equal(t, model.IDList{20, 30, 40}, recs[0].RecommendedIDs)
}

func TestRank_TiesKeepRowOrder(t *testing.T) {
	items := []Item{
		{ID: 1, Text: "alpha"},
		{ID: 2, Text: "beta"},
		{ID: 3, Text: "gamma"},
		{ID: 4, Text: "delta"},
	}

	recs, err := NewEngine(Config{}).Rank(context.Background(), items, 2)
	require.NoError(t, err)

	// every pair scores 0
	assert.Equal(t, model.IDList{2, 3}, recs[0].RecommendedIDs)
	assert.Equal(t, model.IDList{1, 3}, recs[1].RecommendedIDs)
	assert.Equal(t, model.IDList{1, 2}, recs[3].RecommendedIDs)
}

func TestRank_IdenticalTextTiesKeepRowOrder(t *testing.T) {
	items := []Item{{ID: 1, Text: "red apple fruit fresh sweet juicy"}}
	for id := int64(2); id <= 12; id++ {
		items = append(items, Item{ID: id, Text: "apple fruit red sweet crisp orchard harvest autumn"})
	}

	engine := NewEngine(Config{Workers: 1})
	for run := 0; run < 200; run++ {
		recs, err := engine.Rank(context.Background(), items, 3)
		require.NoError(t, err)
		require.Equal(t, model.IDList{2, 3, 4}, recs[0].RecommendedIDs, "run %d", run)
		require.Equal(t, model.IDList{3, 4, 5}, recs[1].RecommendedIDs, "run %d", run)
		require.Equal(t, model.IDList{2, 3, 4}, recs[11].RecommendedIDs, "run %d", run)
	}
}

func TestVectorize_IdenticalDocumentsAreBitIdentical(t *testing.T) {
	doc := "one two three four five six seven eight nine ten eleven twelve"
	vectors := vectorize([]string{doc, "zero one", doc, doc})
	assert.Equal(t, vectors[0], vectors[2])
	assert.Equal(t, vectors[0], vectors[3])
	assert.Equal(t, cosine(vectors[1], vectors[0]), cosine(vectors[1], vectors[3]))
}

func TestRank_TopNLargerThanDataset(t *testing.T) {
	items := []Item{{ID: 1, Text: "a b"}, {ID: 2, Text: "b c"}}
	recs, err := NewEngine(Config{}).Rank(context.Background(), items, 5)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{2}, recs[0].RecommendedIDs)
	assert.Equal(t, model.IDList{1}, recs[1].RecommendedIDs)
}

func TestRank_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(Config{Workers: 1}).Rank(ctx, []Item{{ID: 1, Text: "x"}, {ID: 2, Text: "y"}}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		lines      []string
		topN       int
		wantFormat bool
		contains   string
	}{
		{
			name:       "missing column",
			lines:      []string{"id,title,description,tags", "1,a,b,c"},
			topN:       1,
			wantFormat: true,
			contains:   "categories",
		},
		{
			name:       "bad id",
			lines:      []string{"id,title,description,categories,tags", "abc,a,b,c,d"},
			topN:       1,
			wantFormat: true,
			contains:   "line 2",
		},
		{
			name:       "duplicate id",
			lines:      []string{"id,title,description,categories,tags", "1,a,b,c,d", "1,e,f,g,h"},
			topN:       1,
			wantFormat: true,
			contains:   "duplicate id 1",
		},
		{
			name:       "empty file",
			lines:      nil,
			topN:       1,
			wantFormat: true,
		},
		{
			name:       "non-positive top n",
			lines:      []string{"id,title,description,categories,tags", "1,a,b,c,d"},
			topN:       0,
			wantFormat: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			if tt.lines == nil {
				path = filepath.Join(t.TempDir(), "empty.csv")
				require.NoError(t, os.WriteFile(path, nil, 0o600))
			} else {
				path = writeCSV(t, tt.lines...)
			}

			_, err := NewEngine(Config{}).Generate(context.Background(), path, tt.topN)
			require.Error(t, err)
			assert.Equal(t, tt.wantFormat, errs.IsDataFormat(err))
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestGenerate_UnreadableFile(t *testing.T) {
	_, err := NewEngine(Config{}).Generate(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), 2)
	assert.ErrorIs(t, err, errs.ErrDatasetRead)
	assert.False(t, errs.IsDataFormat(err))
}

func TestLoadDataset_MissingFieldsAndAlias(t *testing.T) {
	path := writeCSV(t,
		"\ufeffID,Title,Description,Category,Tags,rating",
		"1,Only Title",
		"2,,,drama,",
	)

	items, err := LoadDataset(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Only Title   ", items[0].Text)
	assert.Equal(t, "  drama ", items[1].Text)
}

func TestFingerprint(t *testing.T) {
	a := writeCSV(t, "id,title", "1,x")
	b := writeCSV(t, "id,title", "1,y")

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fa2, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fa, fa2)
	assert.NotEqual(t, fa, fb)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"sci", "fi", "2001", "odyssey"}, tokenize("Sci-Fi: 2001, ODYSSEY!"))
	assert.Empty(t, tokenize("  ,, "))
}

func TestVectorize_Normalized(t *testing.T) {
	vs := vectorize([]string{"a b b", "b c", ""})
	assert.InDelta(t, 1.0, cosine(vs[0], vs[0]), 1e-9)
	assert.InDelta(t, 1.0, cosine(vs[1], vs[1]), 1e-9)
	assert.Equal(t, 0.0, cosine(vs[2], vs[0]))
}
