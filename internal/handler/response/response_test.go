package response_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
	"github.com/webitel/im-notify-gateway/internal/auth"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/handler/response"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrUnknownActionType, http.StatusBadRequest},
		{fmt.Errorf("user_id: %w", model.ErrInvalidIdentity), http.StatusBadRequest},
		{auth.ErrTokenExpired, http.StatusUnauthorized},
		{fmt.Errorf("queue: %w", pubsub.ErrTransportUnavailable), http.StatusServiceUnavailable},
		{pubsub.ErrPublishBufferFull, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, response.StatusFor(tc.err), tc.err.Error())
	}
}

func TestError_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Error(rec, model.ErrNoTargetKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body response.GenericResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Status)
	assert.Equal(t, "400", body.Code)
	assert.Equal(t, model.ErrNoTargetKey.Error(), body.CustomerMessage)
	assert.Nil(t, body.Data)
}

func TestSuccess(t *testing.T) {
	body := response.Success("ok", map[string]string{"a": "b"})
	assert.True(t, body.Status)
	assert.Equal(t, "200", body.Code)
}
