package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type optionalBodyRequest struct {
	Notes              string   `json:"notes" validate:"omitempty,max=16"`
	ExcludeOperatorIDs []string `json:"exclude_operator_ids"`
}

func testContext(t *testing.T, req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

func TestBindOptionalEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	c, _ := testContext(t, req)

	var payload optionalBodyRequest
	require.True(t, bindOptional(c, &payload))
	require.Empty(t, payload.Notes)
	require.Empty(t, payload.ExcludeOperatorIDs)
}

func TestBindOptionalChunkedBodyIsStillRead(t *testing.T) {
	body := `{"notes":"skip two","exclude_operator_ids":["op-1","op-2"]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	// A chunked request reports no length up front; the payload must not be
	// silently dropped.
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	c, _ := testContext(t, req)

	var payload optionalBodyRequest
	require.True(t, bindOptional(c, &payload))
	require.Equal(t, "skip two", payload.Notes)
	require.Equal(t, []string{"op-1", "op-2"}, payload.ExcludeOperatorIDs)
}

func TestBindOptionalInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	c, w := testContext(t, req)

	var payload optionalBodyRequest
	require.False(t, bindOptional(c, &payload))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBindOptionalValidationStillApplies(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"notes":"far longer than sixteen characters"}`))
	req.Header.Set("Content-Type", "application/json")
	c, w := testContext(t, req)

	var payload optionalBodyRequest
	require.False(t, bindOptional(c, &payload))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
