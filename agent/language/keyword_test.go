package language

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
)

func newKeywordClassifier(t *testing.T) *KeywordClassifier {
	t.Helper()
	tables, err := referencex.Load()
	require.NoError(t, err)
	return NewKeywordClassifier(tables)
}

func TestKeywordClassifierIntents(t *testing.T) {
	t.Parallel()

	k := newKeywordClassifier(t)
	cases := []struct {
		text string
		want contractx.Intent
	}{
		{"गेहूं में पानी कब देना है?", contractx.IntentCropAdvisoryWater},
		{"when should I irrigate", contractx.IntentCropAdvisoryWater},
		{"यूरिया कितना डालें", contractx.IntentCropAdvisoryFertilizer},
		{"पत्तियों पर सफेद धब्बे हैं", contractx.IntentDiseaseSymptoms},
		{"मुझे लोन चाहिए", contractx.IntentFinanceLoan},
		{"फसल बीमा के बारे में बताओ", contractx.IntentFinanceInsurance},
		{"आज मंडी का भाव क्या है?", contractx.IntentMarketPrice},
		{"I want to sell my wheat", contractx.IntentMarketLinkage},
		{"कल बारिश होगी?", contractx.IntentWeather},
		{"गेहूं का कौन सा बीज अच्छा है?", contractx.IntentGeneralQnA},
		{"मिट्टी की जांच कैसे कराएं", contractx.IntentGeneralQnA},
		{"namaste", contractx.IntentUnknown},
		{"", contractx.IntentUnknown},
	}
	for _, tc := range cases {
		got, err := k.Classify(context.Background(), tc.text, "hi-IN")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Intent, "Classify(%q)", tc.text)
		assert.True(t, got.Intent.Valid())
	}
}

func TestKeywordClassifierRuleOrder(t *testing.T) {
	t.Parallel()

	// water wins over price when both appear
	got, err := newKeywordClassifier(t).Classify(context.Background(), "पानी और मंडी भाव", "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, contractx.IntentCropAdvisoryWater, got.Intent)
}

func TestKeywordClassifierEntities(t *testing.T) {
	t.Parallel()

	k := newKeywordClassifier(t)

	got, _ := k.Classify(context.Background(), "झांसी में बाजरा का भाव क्या है", "hi-IN")
	assert.Equal(t, contractx.IntentMarketPrice, got.Intent)
	assert.Equal(t, "pearl_millet", got.Entity(contractx.EntityCrop))
	assert.Equal(t, "bundelkhand", got.Entity(contractx.EntityLocation))

	got, _ = k.Classify(context.Background(), "मुझे २५ क्विंटल गेहूं बेचना है", "hi-IN")
	assert.Equal(t, contractx.IntentMarketLinkage, got.Intent)
	assert.Equal(t, "25", got.Entity(contractx.EntityQuantity))
	assert.Equal(t, "wheat", got.Entity(contractx.EntityCrop))

	got, _ = k.Classify(context.Background(), "mandi price for next 14 days", "en-IN")
	assert.Equal(t, "14", got.Entity(contractx.EntityForecastDays))

	got, _ = k.Classify(context.Background(), " पत्तियों पर धब्बे ", "hi-IN")
	assert.Equal(t, "पत्तियों पर धब्बे", got.Entity(contractx.EntitySymptoms))

	got, _ = k.Classify(context.Background(), "which seed is best", "en-IN")
	assert.Equal(t, contractx.IntentGeneralQnA, got.Intent)
	assert.Equal(t, "seed", got.Entity(contractx.EntityTopic))
	assert.Equal(t, "which seed is best", got.Entity(contractx.EntityQueryText))
}

func TestKeywordClassifierLatinMatchesWholeTokens(t *testing.T) {
	t.Parallel()

	k := newKeywordClassifier(t)

	// "pesticide" must not trigger the disease rule and "show" is not "how"
	got, _ := k.Classify(context.Background(), "show me pesticide", "en-IN")
	assert.Equal(t, contractx.IntentUnknown, got.Intent)
}

func TestKeywordClassifierWithoutTables(t *testing.T) {
	t.Parallel()

	got, err := NewKeywordClassifier(nil).Classify(context.Background(), "wheat price", "en-IN")
	require.NoError(t, err)
	assert.Equal(t, contractx.IntentMarketPrice, got.Intent)
	assert.Empty(t, got.Entity(contractx.EntityCrop))
}
