package disease

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
)

type fakeClassifier struct {
	label contractx.ImageLabel
	err   error
	block bool
}

func (f *fakeClassifier) ClassifyImage(ctx context.Context, _ contractx.MediaRef) (contractx.ImageLabel, error) {
	if f.block {
		<-ctx.Done()
		return contractx.ImageLabel{}, ctx.Err()
	}
	return f.label, f.err
}

func newTestHandler(opts ...Option) *Handler {
	return NewHandler(referencex.MustLoad(), locale.MustNew([]string{"hi-IN", "en-IN"}, "hi-IN"), opts...)
}

func TestFromSymptomsRuleOrder(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	cases := []struct {
		text string
		rule string
	}{
		{"पत्तियों में पीलापन और सफेद धब्बे", "yellowing"},
		{"white spots on leaves", "powdery_mildew"},
		{"पत्तों पर रतुआ दिख रहा है", "rust"},
		{"there are holes in the leaves", "pests"},
		{"plants look weak", "unclear"},
	}
	for _, tc := range cases {
		res, err := h.FromSymptoms(context.Background(), SymptomArgs{Symptoms: tc.text, Channel: contractx.ChannelWhatsApp})
		require.NoError(t, err)
		assert.Equal(t, ModeSymptoms, res.Mode)
		assert.Equal(t, tc.rule, res.RuleID, tc.text)
	}
}

func TestFromSymptomsPhotoHintOnIVR(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	res, err := h.FromSymptoms(context.Background(), SymptomArgs{Symptoms: "yellow leaves", Channel: contractx.ChannelIVR, Language: "en-IN"})
	require.NoError(t, err)
	assert.Equal(t,
		"Possible nutrient deficiency or water stress Get the soil tested and manage irrigation carefully."+
			" For an accurate diagnosis, you can send a photo of the crop on WhatsApp.",
		res.Message)

	res, err = h.FromSymptoms(context.Background(), SymptomArgs{Symptoms: "yellow leaves", Channel: contractx.ChannelWhatsApp, Language: "en-IN"})
	require.NoError(t, err)
	assert.NotContains(t, res.Message, "WhatsApp")
}

func TestFromImageUsesClassifier(t *testing.T) {
	t.Parallel()

	h := newTestHandler(WithImageClassifier(&fakeClassifier{label: contractx.ImageLabel{Label: "powdery_mildew", Confidence: 0.9134}}, time.Second))
	res, err := h.FromImage(context.Background(), ImageArgs{Image: contractx.MediaRef{URL: "https://m/1"}})
	require.NoError(t, err)

	assert.Equal(t, SourceClassifier, res.Source)
	assert.Equal(t, "powdery_mildew", res.Label)
	assert.Equal(t, "पाउडरी मिल्ड्यू (Powdery Mildew) (91.3% संभावना)", res.Diagnosis)
	assert.Equal(t, "पाउडरी मिल्ड्यू (Powdery Mildew) (91.3% संभावना)\nसलाह: सल्फर आधारित या Hexaconazole फफूंदनाशक का छिड़काव करें।", res.Message)
}

func TestFromImageFallbackIsDeterministic(t *testing.T) {
	t.Parallel()

	tables := referencex.MustLoad()
	allowed := map[string]bool{}
	for _, c := range tables.FallbackCandidates() {
		allowed[c.Label] = true
	}

	handlers := []*Handler{
		newTestHandler(),
		newTestHandler(WithImageClassifier(&fakeClassifier{err: errors.New("quota")}, time.Second)),
		newTestHandler(WithImageClassifier(&fakeClassifier{label: contractx.ImageLabel{Label: "alien_fungus", Confidence: 0.99}}, time.Second)),
		newTestHandler(WithImageClassifier(&fakeClassifier{block: true}, 10*time.Millisecond)),
	}
	var first Result
	for i, h := range handlers {
		res, err := h.FromImage(context.Background(), ImageArgs{Image: contractx.MediaRef{URL: "https://api.twilio.com/media/ME42"}, Language: "en-IN"})
		require.NoError(t, err)
		assert.Equal(t, SourceFallback, res.Source)
		assert.True(t, allowed[res.Label], res.Label)
		if i == 0 {
			first = res
			continue
		}
		assert.Equal(t, first, res)
	}
}

func TestFallbackCandidate(t *testing.T) {
	t.Parallel()

	_, ok := fallbackCandidate(nil, "x")
	assert.False(t, ok)

	cands := referencex.MustLoad().FallbackCandidates()
	a, ok := fallbackCandidate(cands, "https://m/a")
	require.True(t, ok)
	b, _ := fallbackCandidate(cands, " https://m/a ")
	assert.Equal(t, a.ID, b.ID)
}

func TestFromImageNoCandidates(t *testing.T) {
	t.Parallel()

	tables, err := referencex.Parse([]byte("crops: []\n"))
	require.NoError(t, err)
	h := NewHandler(tables, locale.MustNew([]string{"en-IN"}, "en-IN"))

	res, err := h.FromImage(context.Background(), ImageArgs{Image: contractx.MediaRef{URL: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "The photo could not be analysed.\nAdvice: Please make sure the photo is clear and focused on the affected part.", res.Message)
	assert.Zero(t, res.Confidence)
}

func TestFromImageWithoutImage(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{label: contractx.ImageLabel{Label: "powdery_mildew", Confidence: 0.9}}
	h := newTestHandler(WithImageClassifier(classifier, time.Second))

	res, err := h.FromImage(context.Background(), ImageArgs{Image: contractx.MediaRef{URL: "  "}, Language: "en-IN"})
	require.NoError(t, err)
	assert.Equal(t, ModeImage, res.Mode)
	assert.Empty(t, res.Label)
	assert.Empty(t, res.Source)
	assert.Zero(t, res.Confidence)
	assert.NotContains(t, res.Message, "likelihood")
	assert.Equal(t, "The photo could not be analysed.\nAdvice: Please make sure the photo is clear and focused on the affected part.", res.Message)
}

func TestFromImageDownloadFailed(t *testing.T) {
	t.Parallel()

	fetchErr := fmt.Errorf("%w: status 404", contractx.ErrMediaFetch)
	h := newTestHandler(WithImageClassifier(&fakeClassifier{err: fetchErr}, time.Second))

	res, err := h.FromImage(context.Background(), ImageArgs{Image: contractx.MediaRef{URL: "https://api.twilio.com/media/ME404"}, Language: "en-IN"})
	require.NoError(t, err)
	assert.Empty(t, res.Label)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, "Sorry, there was a problem downloading the image you sent.", res.Diagnosis)
	assert.Equal(t, "Sorry, there was a problem downloading the image you sent.\nAdvice: Please make sure the photo is clear and focused on the affected part.", res.Message)
}

func TestWiringError(t *testing.T) {
	t.Parallel()

	var h *Handler
	_, err := h.FromSymptoms(context.Background(), SymptomArgs{})
	assert.ErrorIs(t, err, contractx.ErrHandlerWiring)
	_, err = NewHandler(nil, nil).FromImage(context.Background(), ImageArgs{})
	assert.ErrorIs(t, err, contractx.ErrHandlerWiring)
}
