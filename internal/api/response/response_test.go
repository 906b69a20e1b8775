package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"job_id": "job_1"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "job_1", data["job_id"])
}

func TestCreated(t *testing.T) {
	w := httptest.NewRecorder()
	response.Created(w, map[string]string{"bid_id": "bid_1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "bid_1", data["bid_id"])
}

func TestList(t *testing.T) {
	w := httptest.NewRecorder()
	response.List(w, []string{"a", "b"}, 10)

	body := decode(t, w)
	assert.Len(t, body["data"], 2)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["count"])
	assert.Equal(t, float64(10), meta["limit"])
}

func TestList_NilIsEmptyArray(t *testing.T) {
	w := httptest.NewRecorder()
	response.List[string](w, nil, 0)

	assert.JSONEq(t, `{"data":[],"meta":{"count":0}}`, w.Body.String())
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusConflict, "INVALID_STATE", "cannot assign job", map[string]any{"state": "completed"})

	assert.Equal(t, http.StatusConflict, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "INVALID_STATE", errObj["code"])
	assert.Equal(t, "cannot assign job", errObj["message"])
	assert.Equal(t, "completed", errObj["details"].(map[string]any)["state"])
}

func TestError_OmitsEmptyDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "job not found", nil)

	errObj := decode(t, w)["error"].(map[string]any)
	_, ok := errObj["details"]
	assert.False(t, ok)
}
