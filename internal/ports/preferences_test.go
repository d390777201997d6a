package ports_test

import (
	"net/http"
	"testing"

	"github.com/Amund211/chatrelay/internal/ports"
	"github.com/stretchr/testify/require"
)

func TestActiveSessionHandlers(t *testing.T) {
	t.Parallel()

	t.Run("get", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeGetActiveSessionHandler, &mockAccessService{
			getActiveSession: func(actor string) (string, error) {
				require.Equal(t, userID, actor)
				return sessionID, nil
			},
		})

		w := serve(handler, newRequest(http.MethodGet, "/v1/preferences/active-session", ""))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"activeSessionId": "00000000-0000-4000-8000-000000000001"}`, w.Body.String())
	})

	t.Run("get unset", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeGetActiveSessionHandler, &mockAccessService{
			getActiveSession: func(actor string) (string, error) {
				return "", nil
			},
		})

		w := serve(handler, newRequest(http.MethodGet, "/v1/preferences/active-session", ""))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"activeSessionId": ""}`, w.Body.String())
	})

	t.Run("set", func(t *testing.T) {
		t.Parallel()

		called := false
		handler := newHandler(t, ports.MakeSetActiveSessionHandler, &mockAccessService{
			setActiveSession: func(actor string, id string) error {
				called = true
				require.Equal(t, userID, actor)
				require.Equal(t, sessionID, id)
				return nil
			},
		})

		w := serve(handler, newRequest(http.MethodPut, "/v1/preferences/active-session", `{"activeSessionId": "`+sessionID+`"}`))

		require.Equal(t, http.StatusNoContent, w.Code)
		require.True(t, called)
	})

	t.Run("clear", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeSetActiveSessionHandler, &mockAccessService{
			setActiveSession: func(actor string, id string) error {
				require.Empty(t, id)
				return nil
			},
		})

		w := serve(handler, newRequest(http.MethodPut, "/v1/preferences/active-session", `{"activeSessionId": ""}`))

		require.Equal(t, http.StatusNoContent, w.Code)
	})
}
