package loan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingapi/internal/httpx"
)

func newTestMux(t *testing.T) (*http.ServeMux, *MockRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockRepo := NewMockRepository(ctrl)
	service := NewService(mockRepo, WithClock(func() time.Time { return fixedNow }))
	handler := NewHTTPHandler(service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	handler.Register(mux)
	return mux, mockRepo
}

func serve(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

func TestHTTPHandler_LendAndReturn(t *testing.T) {
	mux, mockRepo := newTestMux(t)

	dune := LendRecord{
		ID:            1,
		BookTitle:     "Dune",
		BorrowerName:  "Alice",
		BorrowerEmail: "a@x.com",
		LendDate:      time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC),
	}

	gomock.InOrder(
		mockRepo.EXPECT().
			Insert(gomock.Any(), LendRecord{BookTitle: "Dune", BorrowerName: "Alice", BorrowerEmail: "a@x.com", LendDate: day(2026, time.October, 18)}).
			Return(dune, nil),
		mockRepo.EXPECT().ListAll(gomock.Any()).Return([]LendRecord{dune}, nil),
		mockRepo.EXPECT().DeleteByTitleAndBorrower(gomock.Any(), "Dune", "Alice").Return(int64(1), nil),
		mockRepo.EXPECT().ListAll(gomock.Any()).Return([]LendRecord{}, nil),
	)

	w := serve(mux, http.MethodPost, "/loans", `{"bookTitle":"Dune","borrowerName":"Alice","borrowerEmail":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t,
		`{"id":1,"bookTitle":"Dune","borrowerName":"Alice","borrowerEmail":"a@x.com","lendDate":"2026-10-18"}`,
		w.Body.String(),
	)

	w = serve(mux, http.MethodGet, "/loans", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed []map[string]any
	decodeBody(t, w, &listed)
	assert.Len(t, listed, 1)

	w = serve(mux, http.MethodPost, "/loans/return", `{"bookTitle":"Dune","borrowerName":"Alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":true}`, w.Body.String())

	w = serve(mux, http.MethodGet, "/loans", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHTTPHandler_Return(t *testing.T) {
	t.Run("unknown loan", func(t *testing.T) {
		mux, mockRepo := newTestMux(t)
		mockRepo.EXPECT().DeleteByTitleAndBorrower(gomock.Any(), "Dune", "Bob").Return(int64(0), nil)

		w := serve(mux, http.MethodPost, "/loans/return", `{"bookTitle":"Dune","borrowerName":"Bob"}`)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"removed":false}`, w.Body.String())
	})

	t.Run("missing borrower", func(t *testing.T) {
		mux, _ := newTestMux(t)

		w := serve(mux, http.MethodPost, "/loans/return", `{"bookTitle":"Dune"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp httpx.ErrorResponse
		decodeBody(t, w, &resp)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	})
}

func TestHTTPHandler_Create(t *testing.T) {
	t.Run("validation error lists fields", func(t *testing.T) {
		mux, _ := newTestMux(t)

		w := serve(mux, http.MethodPost, "/loans", `{"bookTitle":"","borrowerName":"Alice","borrowerEmail":"nope"}`)

		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp httpx.ErrorResponse
		decodeBody(t, w, &resp)
		assert.False(t, resp.Success)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
		require.Len(t, resp.Error.Details, 2)
		assert.Equal(t, "bookTitle", resp.Error.Details[0].Field)
		assert.Equal(t, "borrowerEmail", resp.Error.Details[1].Field)
	})

	t.Run("malformed json", func(t *testing.T) {
		mux, _ := newTestMux(t)

		w := serve(mux, http.MethodPost, "/loans", `{"bookTitle":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp httpx.ErrorResponse
		decodeBody(t, w, &resp)
		assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		mux, _ := newTestMux(t)

		w := serve(mux, http.MethodPost, "/loans", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("constraint violation", func(t *testing.T) {
		mux, mockRepo := newTestMux(t)
		mockRepo.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(LendRecord{}, ErrConstraintViolation)

		w := serve(mux, http.MethodPost, "/loans", `{"bookTitle":"Dune","borrowerName":"Alice","borrowerEmail":"a@x.com"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp httpx.ErrorResponse
		decodeBody(t, w, &resp)
		assert.Equal(t, "CONSTRAINT_VIOLATION", resp.Error.Code)
	})

	t.Run("store unavailable", func(t *testing.T) {
		mux, mockRepo := newTestMux(t)
		mockRepo.EXPECT().Insert(gomock.Any(), gomock.Any()).
			Return(LendRecord{}, errors.Join(ErrStoreUnavailable, context.DeadlineExceeded))

		w := serve(mux, http.MethodPost, "/loans", `{"bookTitle":"Dune","borrowerName":"Alice","borrowerEmail":"a@x.com"}`)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp httpx.ErrorResponse
		decodeBody(t, w, &resp)
		assert.Equal(t, "STORE_UNAVAILABLE", resp.Error.Code)
	})

	t.Run("unexpected error", func(t *testing.T) {
		mux, mockRepo := newTestMux(t)
		mockRepo.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(LendRecord{}, errors.New("boom"))

		w := serve(mux, http.MethodPost, "/loans", `{"bookTitle":"Dune","borrowerName":"Alice","borrowerEmail":"a@x.com"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "boom")
	})
}

func TestHTTPHandler_List(t *testing.T) {
	t.Run("borrower filter", func(t *testing.T) {
		mux, mockRepo := newTestMux(t)
		mockRepo.EXPECT().ListByBorrowerEmail(gomock.Any(), "a@x.com").Return([]LendRecord{{ID: 3}}, nil)

		w := serve(mux, http.MethodGet, "/loans?borrowerEmail=a@x.com", "")

		assert.Equal(t, http.StatusOK, w.Code)
		var listed []map[string]any
		decodeBody(t, w, &listed)
		assert.Len(t, listed, 1)
	})

	t.Run("empty borrower filter", func(t *testing.T) {
		mux, _ := newTestMux(t)

		w := serve(mux, http.MethodGet, "/loans?borrowerEmail=", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store unavailable", func(t *testing.T) {
		mux, mockRepo := newTestMux(t)
		mockRepo.EXPECT().ListAll(gomock.Any()).Return(nil, ErrStoreUnavailable)

		w := serve(mux, http.MethodGet, "/loans", "")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHTTPHandler_ListOverdue(t *testing.T) {
	mux, mockRepo := newTestMux(t)
	old := LendRecord{ID: 7, BookTitle: "Dune", LendDate: fixedNow.AddDate(0, 0, -31)}
	mockRepo.EXPECT().ListOverdue(gomock.Any(), fixedNow, DefaultOverdueDays).Return([]LendRecord{old}, nil)

	w := serve(mux, http.MethodGet, "/loans/overdue", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var listed []map[string]any
	decodeBody(t, w, &listed)
	require.Len(t, listed, 1)
	assert.EqualValues(t, 7, listed[0]["id"])
}

func TestHTTPHandler_FindByTitle(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mux, mockRepo := newTestMux(t)
		mockRepo.EXPECT().FindByTitle(gomock.Any(), "The Hobbit").Return(LendRecord{ID: 2, BookTitle: "The Hobbit"}, nil)

		w := serve(mux, http.MethodGet, "/loans/by-title?title=The+Hobbit", "")

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		mux, mockRepo := newTestMux(t)
		mockRepo.EXPECT().FindByTitle(gomock.Any(), "Dune").Return(LendRecord{}, ErrNotFound)

		w := serve(mux, http.MethodGet, "/loans/by-title?title=Dune", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		var resp httpx.ErrorResponse
		decodeBody(t, w, &resp)
		assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	})

	t.Run("missing title", func(t *testing.T) {
		mux, _ := newTestMux(t)

		w := serve(mux, http.MethodGet, "/loans/by-title", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHTTPHandler_ClientCanceled(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctrl := gomock.NewController(t)
	mockRepo := NewMockRepository(ctrl)
	handler := NewHTTPHandler(NewService(mockRepo), logger)
	mux := http.NewServeMux()
	handler.Register(mux)

	mockRepo.EXPECT().ListAll(gomock.Any()).Return(nil, fmt.Errorf("list loans: %w", context.Canceled))

	w := serve(mux, http.MethodGet, "/loans", "")

	assert.Equal(t, httpx.StatusClientClosedRequest, w.Code)
	var resp httpx.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "CLIENT_CLOSED_REQUEST", resp.Error.Code)
	assert.NotContains(t, logs.String(), "request failed")
	assert.NotContains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "level=DEBUG")
}
