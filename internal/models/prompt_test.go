package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriterion_UnmarshalWeight(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"absent", `{"key":"b","desc":"uses bullets","type":"boolean"}`, 1},
		{"null", `{"key":"b","weight":null}`, 1},
		{"explicit zero", `{"key":"b","weight":0}`, 0},
		{"explicit", `{"key":"b","weight":2.5}`, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Criterion
			require.NoError(t, json.Unmarshal([]byte(tt.in), &c))
			assert.Equal(t, "b", c.Key)
			assert.Equal(t, tt.want, c.Weight)
		})
	}

	var c Criterion
	require.NoError(t, json.Unmarshal([]byte(`{"key":"b","desc":"uses bullets","type":"boolean"}`), &c))
	assert.Equal(t, "uses bullets", c.Description)
	assert.Equal(t, CriterionBoolean, c.Type)
}
