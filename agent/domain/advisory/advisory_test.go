package advisory

import (
	"context"
	"errors"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/domain/weather"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func newTestHandler(opts ...Option) *Handler {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewHandler(referencex.MustLoad(), locale.MustNew([]string{"hi-IN", "en-IN"}, "hi-IN"), opts...)
}

func sownDaysAgo(days int) *statex.Session {
	d := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
	return &statex.Session{ID: "c1", Language: "hi-IN", SowingDate: &d}
}

func TestSelectStageBoundaries(t *testing.T) {
	t.Parallel()

	wheat, ok := referencex.MustLoad().Crop("wheat")
	require.True(t, ok)

	cases := map[int]string{
		-3:  "germination",
		0:   "germination",
		15:  "germination",
		16:  "tillering",
		45:  "tillering",
		70:  "jointing",
		90:  "heading",
		120: "maturity",
	}
	for days, want := range cases {
		stage, found := SelectStage(wheat, days)
		require.True(t, found, "days=%d", days)
		assert.Equal(t, want, stage.ID, "days=%d", days)
	}
	_, found := SelectStage(wheat, 121)
	assert.False(t, found)
}

func TestDaysSinceSowing(t *testing.T) {
	t.Parallel()

	wheat, _ := referencex.MustLoad().Crop("wheat")

	days, estimated := DaysSinceSowing(wheat, sownDaysAgo(10), testNow)
	assert.Equal(t, 10, days)
	assert.False(t, estimated)

	days, estimated = DaysSinceSowing(wheat, nil, testNow)
	assert.Equal(t, 17, days)
	assert.True(t, estimated)

	days, estimated = DaysSinceSowing(wheat, sownDaysAgo(-5), testNow)
	assert.Equal(t, 17, days)
	assert.True(t, estimated)

	// most recent sowing month start is Nov 1 of the previous year
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	days, _ = DaysSinceSowing(wheat, nil, march)
	assert.Equal(t, 120, days)
}

func TestAdviseWithRainCaveat(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	res, err := h.Advise(context.Background(), Args{
		Intent:  contractx.IntentCropAdvisoryWater,
		Crop:    "गेहूं",
		Outlook: weather.OutlookRainSoon,
	}, sownDaysAgo(10))
	require.NoError(t, err)

	assert.Equal(t, "wheat", res.Crop)
	assert.Equal(t, "germination", res.Stage)
	assert.False(t, res.Estimated)
	assert.Equal(t,
		"(गेहूं - अवस्था: germination) अंकुरण का समय। हल्की सिंचाई करें यदि मिट्टी सूखी हो। "+
			"अगले 2-3 दिनों में बारिश की संभावना है, इसलिए सिंचाई अभी टाल सकते हैं।",
		res.Message)
}

func TestAdviseCaveatOnlyForIrrigationAdvice(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	res, err := h.Advise(context.Background(), Args{Crop: "wheat", Language: "en-IN", Outlook: weather.OutlookDrySpell}, sownDaysAgo(80))
	require.NoError(t, err)
	assert.Equal(t, "heading", res.Stage)
	assert.Empty(t, res.WeatherCaveat)

	res, err = h.Advise(context.Background(), Args{Crop: "wheat", Language: "en-IN", Outlook: weather.OutlookDrySpell}, sownDaysAgo(30))
	require.NoError(t, err)
	assert.Equal(t, "tillering", res.Stage)
	assert.Equal(t, " The weather is likely to stay dry, so pay special attention to irrigation.", res.WeatherCaveat)

	res, err = h.Advise(context.Background(), Args{Crop: "wheat", Language: "en-IN", Outlook: weather.OutlookNormal}, sownDaysAgo(30))
	require.NoError(t, err)
	assert.Empty(t, res.WeatherCaveat)
}

func TestAdvisePostHarvestAndUnknownCrop(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	res, err := h.Advise(context.Background(), Args{Crop: "wheat", Language: "en-IN"}, sownDaysAgo(200))
	require.NoError(t, err)
	assert.Equal(t, StagePostHarvest, res.Stage)
	assert.Equal(t, "(wheat - stage: harvest/post-harvest) The wheat crop is probably ready for harvest or already harvested.", res.Message)

	res, err = h.Advise(context.Background(), Args{Crop: "mango", Language: "en-IN"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StageUnknown, res.Stage)
	assert.Equal(t, "No specific advice is available for mango right now.", res.Message)
}

func TestAdviseWithoutTablesIsWiringError(t *testing.T) {
	t.Parallel()

	h := NewHandler(nil, nil)
	_, err := h.Advise(context.Background(), Args{Crop: "wheat"}, nil)
	assert.ErrorIs(t, err, contractx.ErrHandlerWiring)
	_, err = h.Answer(context.Background(), QnAArgs{Query: "x"})
	assert.ErrorIs(t, err, contractx.ErrHandlerWiring)
}

func TestAnswerRules(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	cases := []struct {
		args  QnAArgs
		topic string
		want  string
	}{
		{QnAArgs{Query: "अच्छा बीज कहाँ मिलेगा?", Crop: "wheat"}, TopicSeed,
			"गेहूं के उन्नत किस्मों के बीज के लिए अपने नजदीकी कृषि विज्ञान केंद्र (KVK) या प्रमाणित बीज विक्रेता से संपर्क करें।"},
		{QnAArgs{Query: "Where do I get good seed?", Language: "en-IN"}, TopicSeed,
			"For improved seed varieties, contact your nearest Krishi Vigyan Kendra (KVK) or a certified seed dealer."},
		{QnAArgs{Query: "which WEED killer?", Language: "en-IN"}, TopicPesticide,
			"Always consult an agriculture expert before using any pesticide or herbicide. Using the right product and dose matters."},
		{QnAArgs{Query: "मिट्टी की जांच कैसे कराएं?"}, TopicSoilTest,
			"मिट्टी की जांच कराना बहुत फायदेमंद है। इससे पोषक तत्वों की सही जानकारी मिलती है। आप अपने ब्लॉक के कृषि विभाग या KVK में संपर्क कर सकते हैं।"},
		{QnAArgs{Query: "what should I do?", Topic: "weather", Language: "en-IN"}, TopicWeather,
			"For a detailed forecast, ask me about the weather."},
		{QnAArgs{Query: "tractor kab aayega?", Language: "en-IN"}, "",
			"I do not have enough information to answer this yet. You can contact an agriculture expert."},
	}
	for _, tc := range cases {
		res, err := h.Answer(context.Background(), tc.args)
		require.NoError(t, err)
		assert.Equal(t, "rules", res.Source)
		assert.Equal(t, tc.topic, res.Topic, tc.args.Query)
		assert.Equal(t, tc.want, res.Message, tc.args.Query)
	}
}

type fakeAnswerer struct {
	answer string
	err    error
	got    Question
}

func (f *fakeAnswerer) Answer(ctx context.Context, q Question) (string, error) {
	f.got = q
	return f.answer, f.err
}

func TestAnswerPrefersAnswerer(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{answer: "  Use certified seed.  "}
	h := newTestHandler(WithAnswerer(a, time.Second))
	res, err := h.Answer(context.Background(), QnAArgs{Query: "seed?", Crop: "bajra", Language: "en-IN", Location: "Jhansi"})
	require.NoError(t, err)
	assert.Equal(t, "llm", res.Source)
	assert.Equal(t, "Use certified seed.", res.Message)
	assert.Equal(t, Question{Text: "seed?", Language: "en-IN", Crop: "pearl millet", Location: "Jhansi"}, a.got)

	failing := newTestHandler(WithAnswerer(&fakeAnswerer{err: errors.New("timeout")}, time.Second))
	res, err = failing.Answer(context.Background(), QnAArgs{Query: "seed?", Language: "en-IN"})
	require.NoError(t, err)
	assert.Equal(t, "rules", res.Source)
	assert.Equal(t, TopicSeed, res.Topic)
}

type fakeChatModel struct {
	reply string
	err   error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{Role: schema.Assistant, Content: f.reply}, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func TestLLMAnswerer(t *testing.T) {
	t.Parallel()

	a, err := NewLLMAnswerer(context.Background(), &fakeChatModel{reply: `{"answer":"KVK se sampark karein."}`}, "answer farming questions")
	require.NoError(t, err)
	got, err := a.Answer(context.Background(), Question{Text: "?", Language: "hi-IN"})
	require.NoError(t, err)
	assert.Equal(t, "KVK se sampark karein.", got)

	a, err = NewLLMAnswerer(context.Background(), &fakeChatModel{reply: `{"answer":""}`}, "answer farming questions")
	require.NoError(t, err)
	_, err = a.Answer(context.Background(), Question{Text: "?"})
	assert.ErrorIs(t, err, contractx.ErrSchemaViolation)

	a, err = NewLLMAnswerer(context.Background(), &fakeChatModel{err: errors.New("down")}, "answer farming questions")
	require.NoError(t, err)
	_, err = a.Answer(context.Background(), Question{Text: "?"})
	assert.ErrorIs(t, err, contractx.ErrModelInvoke)

	_, err = NewLLMAnswerer(context.Background(), nil, "x")
	assert.ErrorIs(t, err, contractx.ErrValidation)
	_, err = NewLLMAnswerer(context.Background(), &fakeChatModel{}, " ")
	assert.ErrorIs(t, err, contractx.ErrPromptMissing)
}
