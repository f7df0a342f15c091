package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

func TestExtract_Missing(t *testing.T) {
	t.Parallel()

	h, err := Extract(context.Background())
	assert.Nil(t, h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOracleMissing)

	var extractionErr *ExtractionError
	require.True(t, errors.As(err, &extractionErr))
	assert.Equal(t, ExtractionMissing, extractionErr.Reason)
	assert.Equal(t, http.StatusBadRequest, StatusFor(err))
}

func TestExtract_PipelineOracleIsNotPublished(t *testing.T) {
	t.Parallel()

	ctx := ContextWithPipelineOracle(context.Background(), allowAll())
	_, err := Extract(ctx)
	assert.ErrorIs(t, err, ErrOracleMissing)
}

func TestExtract_RepeatedCallsReturnSameHandle(t *testing.T) {
	t.Parallel()

	h := allowAll()
	var decisions int
	decide := func(r *http.Request, _ *oracle.Handle) (*http.Request, error) {
		decisions++
		return r, nil
	}

	var first, second *oracle.Handle
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first, _ = ExtractFromRequest(r)
		second, _ = ExtractFromRequest(r)
		w.WriteHeader(http.StatusOK)
	})

	New(h, decide).Wrap(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Same(t, h, first)
	assert.Same(t, first, second)
	assert.Equal(t, 1, decisions)
}

func TestWithOracle(t *testing.T) {
	t.Parallel()

	h := allowAll()
	var got *oracle.Handle
	handler := WithOracle(func(w http.ResponseWriter, _ *http.Request, h *oracle.Handle) {
		got = h
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("without middleware", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no oracle could be extracted", decodeError(t, rec))
		assert.Nil(t, got)
	})

	t.Run("behind middleware", func(t *testing.T) {
		rec := httptest.NewRecorder()
		New(h, continueDecision).Wrap(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Same(t, h, got)
	})
}

func TestAttach(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source oracle.Source
		want   bool
	}{
		{name: "handle", source: allowAll(), want: true},
		{name: "loaded holder", source: oracle.NewHolder(allowAll().Oracle(), "test"), want: true},
		{name: "empty holder", source: oracle.NewHolder(nil, ""), want: false},
		{name: "nil source", source: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var found bool
			inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				_, found = pipelineOracle(r.Context())
			})
			Attach(tt.source)(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.want, found)
		})
	}
}

func TestContextWithPipelineOracle_Nil(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Equal(t, ctx, ContextWithPipelineOracle(ctx, nil))
}
