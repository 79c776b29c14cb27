package httputil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientReplaysQueue(t *testing.T) {
	m := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"ok":true}`).
		AddError(errors.New("dial timeout"))

	req, err := http.NewRequest("POST", "http://detector/detect", strings.NewReader("frame"))
	require.NoError(t, err)

	resp, err := m.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(body))

	_, err = m.Do(req)
	assert.EqualError(t, err, "dial timeout")

	// Exhausted queue falls back to an empty 200.
	resp, err = m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 3, m.RequestCount())
	assert.Equal(t, "http://detector/detect", m.Requests[0].URL.String())
}
