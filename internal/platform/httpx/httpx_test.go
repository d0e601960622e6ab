package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("role: %w", ErrNotFound):    http.StatusNotFound,
		fmt.Errorf("name: %w", ErrDuplicate):   http.StatusConflict,
		fmt.Errorf("input: %w", ErrValidation): http.StatusBadRequest,
		ErrForbidden:                           http.StatusForbidden,
		ErrUnauthorized:                        http.StatusUnauthorized,
		errors.New("connection reset"):         http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("dial tcp 10.0.0.5:5432: refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")

	rr = httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("custom role 9: %w", ErrNotFound))
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.Contains(t, problem.Detail, "custom role 9")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		RoleID int64 `json:"roleId"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"roleId":10}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &target))
	assert.EqualValues(t, 10, target.RoleID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"roleId":10,"extra":true}`))
	assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, &target), ErrValidation)
}

func TestValidationProblemListsFields(t *testing.T) {
	rr := httptest.NewRecorder()
	ValidationProblem(rr, map[string]string{"mode": "must be any or all"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"title":"Validation Failed","status":400,"errors":{"mode":"must be any or all"}}`, rr.Body.String())
}
