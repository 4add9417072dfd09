package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/handler"
)

func dialStream(t *testing.T, api *testAPI, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(api.handler)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readState(t *testing.T, conn *websocket.Conn) handler.StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg handler.StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStream_PushesStateChanges(t *testing.T) {
	api := newTestAPI(t, nil)
	conn, _, err := dialStream(t, api, "?access_token="+api.token(alice), nil)
	require.NoError(t, err)

	first := readState(t, conn)
	assert.Equal(t, "state", first.Type)
	assert.True(t, first.Data.Initialized)
	assert.Empty(t, first.Data.MyTrips)

	stored := api.seed(domain.KindOwned, korea("alice"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readState(t, conn)
		if len(msg.Data.MyTrips) == 1 {
			assert.Equal(t, stored.ID, msg.Data.MyTrips[0].ID)
			return
		}
	}
	t.Fatal("trip written elsewhere was never pushed")
}

func TestStream_RequiresToken(t *testing.T) {
	api := newTestAPI(t, nil)
	_, resp, err := dialStream(t, api, "", nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	api := newTestAPI(t, nil)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := dialStream(t, api, "?access_token="+api.token(alice), header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStream_AllowsConfiguredOrigin(t *testing.T) {
	api := newTestAPI(t, nil)
	header := http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err := dialStream(t, api, "?access_token="+api.token(alice), header)

	require.NoError(t, err)
	assert.Equal(t, "state", readState(t, conn).Type)
}
