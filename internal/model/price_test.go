package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0", 0, false},
		{"1", 1_000_000_000, false},
		{"1.5", 1_500_000_000, false},
		{".25", 250_000_000, false},
		{"2.", 2_000_000_000, false},
		{" 0.000000001 ", 1, false},
		{"0.0000000001", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"1e3", 0, true},
		{"", 0, true},
		{".", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "0", FormatPrice(0))
	assert.Equal(t, "1.5", FormatPrice(1_500_000_000))
	assert.Equal(t, "0.000000001", FormatPrice(1))
	assert.Equal(t, "12", FormatPrice(12*MistPerSui))
}

func TestEffectivePassingScore(t *testing.T) {
	var p ContentPayload
	assert.Equal(t, DefaultPassingScore, p.EffectivePassingScore())

	score := 85
	p.PassingScore = &score
	assert.Equal(t, 85, p.EffectivePassingScore())
}

func TestContentPayloadPublicHidesAnswers(t *testing.T) {
	p := ContentPayload{Questions: []Question{
		{Text: "q1", Options: [4]string{"a", "b", "c", "d"}, CorrectAnswer: 2},
	}}
	pub := p.Public()

	assert.Equal(t, -1, pub.Questions[0].CorrectAnswer)
	assert.Equal(t, 2, p.Questions[0].CorrectAnswer, "original payload must be untouched")

	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"question":"q1"`)
}
