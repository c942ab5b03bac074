package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecList_UnmarshalObjectPreservesOrder(t *testing.T) {
	raw := `{"id":"p1","specifications":{"storage":"256GB","ram":8,"5g":true,"weight":null}}`

	var p ProductRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	require.Len(t, p.Specs, 4)
	assert.Equal(t, SpecPair{Key: "storage", Value: "256GB"}, p.Specs[0])
	assert.Equal(t, SpecPair{Key: "ram", Value: "8"}, p.Specs[1])
	assert.Equal(t, SpecPair{Key: "5g", Value: "true"}, p.Specs[2])
	assert.Equal(t, SpecPair{Key: "weight", Value: ""}, p.Specs[3])
}

func TestSpecList_UnmarshalArray(t *testing.T) {
	raw := `{"specifications":[{"key":"b","value":"2"},{"key":"a","value":"1"}]}`

	var p ProductRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, SpecList{{"b", "2"}, {"a", "1"}}, p.Specs)
}

func TestSpecList_MarshalRoundTripKeepsOrder(t *testing.T) {
	specs := SpecList{{"z", "1"}, {"a", "2"}}
	data, err := json.Marshal(specs)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"1","a":"2"}`, string(data))
}

func TestSpecList_RejectsScalar(t *testing.T) {
	var s SpecList
	assert.Error(t, s.UnmarshalJSON([]byte(`"nope"`)))
}

func TestUserProfile_ApplyInteraction(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("like adds category, brand and raises max price", func(t *testing.T) {
		p := &UserProfile{UserID: "u1"}
		p.ApplyInteraction(Interaction{ProductID: "a", Action: ActionLike, Category: "Laptops", Brand: "Dell", Price: 900, Timestamp: now})
		p.ApplyInteraction(Interaction{ProductID: "b", Action: ActionLike, Category: "Laptops", Brand: "Apple", Price: 700, Timestamp: now})

		assert.Equal(t, []string{"Laptops"}, p.PreferredCategories)
		assert.Equal(t, []string{"Apple", "Dell"}, p.PreferredBrands)
		require.NotNil(t, p.MaxPrice)
		assert.Equal(t, 900.0, *p.MaxPrice)
		assert.Len(t, p.History, 2)
	})

	t.Run("dislike removes brand", func(t *testing.T) {
		p := &UserProfile{PreferredBrands: []string{"Dell", "HP"}}
		p.ApplyInteraction(Interaction{ProductID: "c", Action: ActionDislike, Brand: "dell", Timestamp: now})
		assert.Equal(t, []string{"HP"}, p.PreferredBrands)
	})

	t.Run("view only appends history", func(t *testing.T) {
		p := &UserProfile{}
		p.ApplyInteraction(Interaction{ProductID: "d", Action: ActionView, Brand: "Sony", Timestamp: now})
		assert.Empty(t, p.PreferredBrands)
		assert.Len(t, p.History, 1)
	})

	t.Run("summary is idempotent", func(t *testing.T) {
		in := Interaction{ProductID: "a", Action: ActionLike, Category: "Audio", Brand: "Sony", Price: 120, Timestamp: now}
		p := &UserProfile{}
		p.ApplyInteraction(in)
		p.ApplyInteraction(in)
		assert.Equal(t, []string{"Audio"}, p.PreferredCategories)
		assert.Equal(t, []string{"Sony"}, p.PreferredBrands)
	})
}

func TestUserProfile_NilSafe(t *testing.T) {
	var p *UserProfile
	assert.False(t, p.PrefersBrand("Sony"))
	assert.False(t, p.PrefersCategory("Audio"))
}
