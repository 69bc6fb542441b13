package extraction

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

type fixedMonitor struct{ used float64 }

func (f *fixedMonitor) UsedFraction() (float64, error) { return f.used, nil }

func newTestExtractor() *CascadeExtractor {
	return NewCascadeExtractor(DefaultConfig(), &fixedMonitor{used: 0.30}, slog.New(slog.DiscardHandler))
}

func TestExtractPlainText(t *testing.T) {
	e := newTestExtractor()

	for _, fileType := range []string{"txt", "md"} {
		res, err := e.Extract(context.Background(), []byte("hello   world\n\n\n\nbye  \n"), fileType)
		require.NoError(t, err)
		assert.Equal(t, "hello world\n\nbye", res.Text)
		assert.Equal(t, models.MethodDirect, res.Method)
		assert.False(t, res.HasImages)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Extract(context.Background(), []byte("x"), "exe")
	assert.Error(t, err)
}

func TestCascadeStopsAtFirstAcceptableTier(t *testing.T) {
	e := newTestExtractor()
	body := strings.Repeat("structured text layer content ", 4)

	invoked := []string{}
	tiers := []tierFunc{
		func(ctx context.Context, data []byte) tierResult {
			invoked = append(invoked, "tier1")
			return tierResult{status: tierOK, text: body, method: models.MethodPDFText}
		},
		func(ctx context.Context, data []byte) tierResult {
			invoked = append(invoked, "tier2")
			return tierResult{status: tierOK, text: body, method: models.MethodDocconv}
		},
	}

	res, err := e.runCascade(context.Background(), nil, tiers)
	require.NoError(t, err)
	assert.Equal(t, models.MethodPDFText, res.Method)
	assert.Equal(t, []string{"tier1"}, invoked)
}

func TestCascadeFallsThroughOnShortAndErroredTiers(t *testing.T) {
	e := newTestExtractor()
	body := strings.Repeat("recovered by the last tier ", 4)

	invoked := []string{}
	tiers := []tierFunc{
		func(ctx context.Context, data []byte) tierResult {
			invoked = append(invoked, "tier1")
			return tierResult{status: tierTooShort, text: "stub", method: models.MethodPDFText}
		},
		func(ctx context.Context, data []byte) tierResult {
			invoked = append(invoked, "tier2")
			return tierResult{status: tierError, err: errors.New("parse failure"), method: models.MethodDocconv}
		},
		func(ctx context.Context, data []byte) tierResult {
			invoked = append(invoked, "tier3")
			return tierResult{status: tierOK, text: body, method: models.MethodOCR, hasImages: true}
		},
	}

	res, err := e.runCascade(context.Background(), nil, tiers)
	require.NoError(t, err)
	assert.Equal(t, models.MethodOCR, res.Method)
	assert.True(t, res.HasImages)
	assert.Equal(t, []string{"tier1", "tier2", "tier3"}, invoked)
}

func TestCascadeExhaustedReturnsExtractionFailed(t *testing.T) {
	e := newTestExtractor()

	tiers := []tierFunc{
		func(ctx context.Context, data []byte) tierResult {
			return tierResult{status: tierTooShort, method: models.MethodPDFText}
		},
		func(ctx context.Context, data []byte) tierResult {
			return tierResult{status: tierError, err: errors.New("boom"), method: models.MethodDocconv}
		},
	}

	_, err := e.runCascade(context.Background(), nil, tiers)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestAcceptableCountsNonWhitespaceOnly(t *testing.T) {
	e := newTestExtractor()

	assert.False(t, e.acceptable(strings.Repeat(" \n\t", 100)))
	assert.False(t, e.acceptable(strings.Repeat("a", 50)))
	assert.True(t, e.acceptable(strings.Repeat("a", 51)))
	assert.True(t, e.acceptable(strings.Repeat("ab ", 40)))
}
