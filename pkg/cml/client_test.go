package cml

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netlab-ci/cmltest/internal/testutil"
	"github.com/netlab-ci/cmltest/pkg/util"
)

func newTestClient(t *testing.T, f *testutil.FakeCML) *Client {
	t.Helper()
	c, err := NewClient(f.URL(), f.Username, f.Password, false)
	require.NoError(t, err)
	return c
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cml.example.net", "https://cml.example.net"},
		{"10.0.0.5:8443", "https://10.0.0.5:8443"},
		{"http://cml.local/", "http://cml.local"},
		{"https://cml.example.net/api/v0", "https://cml.example.net"},
		{" https://cml.example.net/api/v0/ ", "https://cml.example.net"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := baseURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}

	_, err := baseURL("")
	assert.Error(t, err)
}

func TestNewClient_Host(t *testing.T) {
	c, err := NewClient("https://cml.example.net:8443", "u", "p", true)
	require.NoError(t, err)
	assert.Equal(t, "cml.example.net", c.Host())
}

func TestClient_Lifecycle(t *testing.T) {
	f := testutil.NewFakeCML(t)
	c := newTestClient(t, f)
	ctx := context.Background()

	id, err := c.ImportLab(ctx, "cmltest-ios", []byte("lab:\n  title: cmltest-ios\n"))
	require.NoError(t, err)
	assert.Equal(t, "lab:\n  title: cmltest-ios\n", string(f.Lab(id).Topology))

	state, err := c.LabState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateDefined, state)

	require.NoError(t, c.StartLab(ctx, id))
	converged, err := c.Converged(ctx, id)
	require.NoError(t, err)
	assert.True(t, converged)

	lab, err := c.GetLab(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cmltest-ios", lab.Title)
	assert.Equal(t, StateStarted, lab.State)

	found, err := c.FindLabByTitle(ctx, "cmltest-ios")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	require.NoError(t, c.StopLab(ctx, id))
	require.NoError(t, c.WipeLab(ctx, id))
	require.NoError(t, c.DeleteLab(ctx, id))
	assert.Zero(t, f.LabCount())

	// authenticated exactly once for the whole sequence
	assert.Equal(t, 1, f.CallCount("POST /authenticate"))
}

func TestClient_ConvergedFalseUntilThreshold(t *testing.T) {
	f := testutil.NewFakeCML(t)
	f.ConvergeAfter = 2
	c := newTestClient(t, f)
	ctx := context.Background()

	id := f.AddLab("slow", StateDefined)
	require.NoError(t, c.StartLab(ctx, id))

	var got []bool
	for i := 0; i < 3; i++ {
		ok, err := c.Converged(ctx, id)
		require.NoError(t, err)
		got = append(got, ok)
	}
	assert.Equal(t, []bool{false, false, true}, got)
}

func TestClient_NotFound(t *testing.T) {
	f := testutil.NewFakeCML(t)
	c := newTestClient(t, f)
	ctx := context.Background()

	err := c.StopLab(ctx, "nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "PUT /labs/nope/stop: HTTP 404")

	_, err = c.FindLabByTitle(ctx, "missing")
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestClient_BadCredentials(t *testing.T) {
	f := testutil.NewFakeCML(t)
	c, err := NewClient(f.URL(), "admin", "wrong", false)
	require.NoError(t, err)

	_, err = c.ListLabs(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.False(t, IsNotFound(err))
}

func TestClient_ReauthenticatesOnExpiredToken(t *testing.T) {
	f := testutil.NewFakeCML(t)
	c := newTestClient(t, f)
	ctx := context.Background()

	_, err := c.ListLabs(ctx)
	require.NoError(t, err)

	f.ExpireToken = true
	_, err = c.ListLabs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.CallCount("POST /authenticate"))
}

func TestClient_ImportFailure(t *testing.T) {
	f := testutil.NewFakeCML(t)
	f.FailImport = true
	c := newTestClient(t, f)

	_, err := c.ImportLab(context.Background(), "x", []byte("lab: {}"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "import failed")
}

func TestClient_WipeRequiresStopped(t *testing.T) {
	f := testutil.NewFakeCML(t)
	c := newTestClient(t, f)
	ctx := context.Background()

	id := f.AddLab("running", StateStarted)
	err := c.WipeLab(ctx, id)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestAPIError_TruncatesBody(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	e := &APIError{Method: "GET", Path: "/labs", StatusCode: 500, Body: string(long)}
	assert.Contains(t, e.Error(), "...")
	assert.Less(t, len(e.Error()), 260)

	e = &APIError{Method: "GET", Path: "/labs", StatusCode: 502}
	assert.Equal(t, "cml: GET /labs: HTTP 502", e.Error())
}
