package serialx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type testChild struct {
	ID      int64     `json:"id"`
	Created Timestamp `json:"created"`
}

type testParent struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	Nickname string      `json:"nickname"`
	Active   *bool       `json:"active"`
	Created  Timestamp   `json:"created"`
	Child    *testChild  `json:"child"`
	Children []testChild `json:"children"`
}

var (
	childMapping  = Mapping{"created": Time}
	parentMapping = Mapping{
		"created":  Time,
		"child":    Object[testChild](childMapping),
		"children": List[testChild](childMapping),
	}
)

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("nil payload yields nil", func(t *testing.T) {
		p, err := Decode[testParent](nil, parentMapping)
		require.NoError(t, err)
		require.Nil(t, p)

		var m map[string]any
		p, err = Decode[testParent](m, parentMapping)
		require.NoError(t, err)
		require.Nil(t, p)
	})

	t.Run("populates declared and copied fields", func(t *testing.T) {
		payload := map[string]any{
			"id":      json.Number("7"),
			"name":    "parent",
			"active":  true,
			"created": json.Number("1577880000"),
			"child": map[string]any{
				"id":      float64(1),
				"created": "2020-01-01 13:00:00",
			},
			"children": []any{
				map[string]any{"id": float64(2), "created": float64(1577880000)},
				nil,
				map[string]any{"id": float64(3)},
			},
			"unknown": "ignored",
		}

		p, err := Decode[testParent](payload, parentMapping)
		require.NoError(t, err)
		require.NotNil(t, p)

		require.Equal(t, int64(7), p.ID)
		require.Equal(t, "parent", p.Name)
		require.Empty(t, p.Nickname)
		require.NotNil(t, p.Active)
		require.True(t, *p.Active)
		require.True(t, p.Created.Valid)
		require.Equal(t, int64(1577880000), p.Created.Unix())

		require.NotNil(t, p.Child)
		require.Equal(t, int64(1), p.Child.ID)
		require.True(t, p.Child.Created.Valid)
		require.Equal(t, int64(1577883600), p.Child.Created.Unix())

		require.Len(t, p.Children, 2)
		require.Equal(t, int64(2), p.Children[0].ID)
		require.True(t, p.Children[0].Created.Valid)
		require.Equal(t, int64(3), p.Children[1].ID)
		require.False(t, p.Children[1].Created.Valid)
	})

	t.Run("absent fields keep zero values", func(t *testing.T) {
		p, err := Decode[testParent](map[string]any{"name": "only"}, parentMapping)
		require.NoError(t, err)
		require.Equal(t, "only", p.Name)
		require.Nil(t, p.Active)
		require.Nil(t, p.Child)
		require.Nil(t, p.Children)
		require.False(t, p.Created.Valid)
	})

	t.Run("null nested object stays nil", func(t *testing.T) {
		p, err := Decode[testParent](map[string]any{"child": nil}, parentMapping)
		require.NoError(t, err)
		require.Nil(t, p.Child)
	})

	t.Run("bad timestamp is invalid, not an error", func(t *testing.T) {
		p, err := Decode[testParent](map[string]any{"created": "yesterday-ish"}, parentMapping)
		require.NoError(t, err)
		require.False(t, p.Created.Valid)
	})

	t.Run("unconvertible copied field is dropped", func(t *testing.T) {
		p, err := Decode[testParent](map[string]any{
			"id":       "abc",
			"name":     "bob",
			"nickname": map[string]any{"first": "b"},
			"created":  float64(1577880000),
		}, parentMapping)
		require.NoError(t, err)
		require.Zero(t, p.ID)
		require.Equal(t, "bob", p.Name)
		require.Empty(t, p.Nickname)
		require.True(t, p.Created.Valid)
	})

	t.Run("non-object payload is malformed", func(t *testing.T) {
		_, err := Decode[testParent]("nope", parentMapping)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("nested failure surfaces", func(t *testing.T) {
		_, err := Decode[testParent](map[string]any{"child": "nope"}, parentMapping)
		require.ErrorIs(t, err, ErrMalformed)
		require.Contains(t, err.Error(), `field "child"`)
	})

	t.Run("custom nested rule", func(t *testing.T) {
		m := Mapping{
			"name": Nested(func(v any) (any, error) {
				s, _ := v.(string)
				return "custom-" + s, nil
			}),
		}
		p, err := Decode[testParent](map[string]any{"name": "x"}, m)
		require.NoError(t, err)
		require.Equal(t, "custom-x", p.Name)
	})
}

func TestDecodeSlice(t *testing.T) {
	t.Parallel()

	items, err := DecodeSlice[testChild](nil, childMapping)
	require.NoError(t, err)
	require.Nil(t, items)

	_, err = DecodeSlice[testChild](map[string]any{}, childMapping)
	require.ErrorIs(t, err, ErrMalformed)

	items, err = DecodeSlice[testChild]([]any{map[string]any{"id": 1}}, childMapping)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(1), items[0].ID)
}
