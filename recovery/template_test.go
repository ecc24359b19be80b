package recovery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateID(t *testing.T) {
	cases := []struct {
		name   string
		wantID int
		wantOK bool
	}{
		{"id_0.png", 0, true},
		{"id_42.png", 42, true},
		{"id_7.jpg", 7, true},
		{"id_7.jpeg", 7, true},
		{"id_7.PNG", 7, true},
		{"id_-3.png", 0, false},
		{"id_.png", 0, false},
		{"id_x.png", 0, false},
		{"marker_5.png", 0, false},
		{"id_5.bmp", 0, false},
		{"id_5", 0, false},
		{"readme.txt", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := templateID(tc.name)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantID, id)
			}
		})
	}
}

func TestLoadTemplatesMissingDir(t *testing.T) {
	provider := newTestORBProvider(t)

	store := LoadTemplates(filepath.Join(t.TempDir(), "does-not-exist"), provider)
	require.NotNil(t, store)
	assert.Equal(t, 0, store.Len())
	assert.False(t, store.Has(0))
	assert.Nil(t, store.Get(0))
}

func TestLoadTemplates(t *testing.T) {
	provider := newTestORBProvider(t)
	dir := writeTemplateDir(t, "5x5_100", []int{2, 9}, 240)

	store := LoadTemplates(dir, provider)
	defer store.Close()

	require.Equal(t, 2, store.Len())
	assert.True(t, store.Has(2))
	assert.True(t, store.Has(9))
	assert.False(t, store.Has(5))

	tpl := store.Get(2)
	require.NotNil(t, tpl)
	assert.Equal(t, 2, tpl.ID)
	assert.NotEmpty(t, tpl.Keypoints)
	assert.False(t, tpl.Descriptors.Empty())
	assert.Equal(t, len(tpl.Keypoints), tpl.Descriptors.Rows())

	// Template corners span the full rendered image.
	assert.InDelta(t, 0, float64(tpl.Corners[0].X), 1e-6)
	assert.InDelta(t, 239, float64(tpl.Corners[2].X), 1e-6)
	assert.InDelta(t, 239, float64(tpl.Corners[2].Y), 1e-6)
}

func TestStoreClose(t *testing.T) {
	provider := newTestORBProvider(t)
	dir := writeTemplateDir(t, "5x5_100", []int{1}, 240)

	store := LoadTemplates(dir, provider)
	require.Equal(t, 1, store.Len())

	store.Close()
	assert.Equal(t, 0, store.Len())
	assert.Nil(t, store.Get(1))
}
