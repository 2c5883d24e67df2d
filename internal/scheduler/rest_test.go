package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTClient_SubmitJob_EnvironmentAsListAtNewVersion(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("X-SLURM-USER-TOKEN"))
		assert.Equal(t, "alice", r.Header.Get("X-SLURM-USER-NAME"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"job_id": 99}`))
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL, APIVersion: "0.0.41"}
	jobID, err := c.SubmitJob(context.Background(), JobDescription{
		Name: "test", Environment: map[string]string{"FOO": "bar"},
	}, "alice", "tok")
	require.NoError(t, err)
	assert.Equal(t, "99", jobID)

	job := captured["job"].(map[string]any)
	env, ok := job["environment"].([]any)
	require.True(t, ok, "expected environment to be a list at API version >= 0.0.39")
	assert.Contains(t, env, "FOO=bar")
	// at >= 0.0.41 the script is embedded in job, not a sibling field
	_, hasSiblingScript := captured["script"]
	assert.False(t, hasSiblingScript)
}

func TestRESTClient_SubmitJob_EnvironmentAsMapAtOldVersion(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"job_id": 1}`))
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL, APIVersion: "0.0.38"}
	_, err := c.SubmitJob(context.Background(), JobDescription{
		Environment: map[string]string{"FOO": "bar"}, Script: "#!/bin/sh\necho hi",
	}, "alice", "tok")
	require.NoError(t, err)

	job := captured["job"].(map[string]any)
	_, isMap := job["environment"].(map[string]any)
	assert.True(t, isMap, "expected environment to be a map below API version 0.0.39")
	// below 0.0.41 the script is a sibling field, not embedded in job
	assert.Equal(t, "#!/bin/sh\necho hi", captured["script"])
	_, hasJobScript := job["script"]
	assert.False(t, hasJobScript)
}

func TestRESTClient_SubmitJob_ErrorsArrayOnHTTP200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job_id": 0, "errors": [{"error": "invalid partition"}]}`))
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL, APIVersion: "0.0.40"}
	_, err := c.SubmitJob(context.Background(), JobDescription{}, "alice", "tok")
	require.Error(t, err)
}

func TestFlexInt_DecodesPlainAndObjectShapes(t *testing.T) {
	var plain flexInt
	require.NoError(t, json.Unmarshal([]byte("42"), &plain))
	assert.Equal(t, int64(42), plain.Value)

	var obj flexInt
	require.NoError(t, json.Unmarshal([]byte(`{"set": true, "infinite": false, "number": 7}`), &obj))
	assert.Equal(t, int64(7), obj.Value)
	assert.True(t, obj.Set)

	var unset flexInt
	require.NoError(t, json.Unmarshal([]byte(`{"set": false, "infinite": false, "number": 0}`), &unset))
	assert.Nil(t, unset.ptr())
}

func TestRESTClient_GetJob_UsesSlurmDBRoot(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"jobs": [{"job_id": 1234}]}`))
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL, APIVersion: "0.0.40"}
	jobs, err := c.GetJob(context.Background(), "1234", "alice", "tok")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "/slurmdb/v0.0.40/job/1234", gotPath)
}

func TestRESTClient_GetJobs_UsesSlurmDBRootAndUsersFilter(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"jobs": []}`))
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL, APIVersion: "0.0.40"}
	_, err := c.GetJobs(context.Background(), "alice", "tok", false)
	require.NoError(t, err)
	assert.Equal(t, "/slurmdb/v0.0.40/jobs", gotPath)
	assert.Equal(t, "users=alice", gotQuery)
}

func TestRESTClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pings": [{"hostname": "ctld1", "pinged": "UP"}, {"hostname": "ctld2", "pinged": "DOWN"}]}`))
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL, APIVersion: "0.0.40"}
	res, err := c.Ping(context.Background(), "alice", "tok")
	require.NoError(t, err)
	assert.False(t, res.Healthy())
	require.Len(t, res.Controllers, 2)
}
