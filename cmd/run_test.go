package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRunFlags() {
	urls = nil
	targetsFile = ""
	method = "GET"
	users = 10
	duration = 30
	rampUp = 0
	iterations = 1
	timeout = 10
	headers = nil
	insecure = false
	outPrefix = ""
	eventsDir = ""
	strategy = "loop"
}

func TestBuildPlanFromFlags(t *testing.T) {
	t.Cleanup(resetRunFlags)
	urls = []string{"http://api.test/a", "http://api.test/b"}
	method = "post"
	users = 5
	duration = 20
	rampUp = 2
	timeout = 8
	headers = []string{"X-Trace: abc", "Accept: application/json"}
	insecure = true

	p, err := buildPlan()
	require.NoError(t, err)

	require.Len(t, p.Targets, 2)
	assert.Equal(t, "POST", p.Targets[0].Method)
	assert.Equal(t, "http://api.test/b", p.Targets[1].URITemplate)
	assert.Equal(t, 5, p.ConcurrentUsers)
	assert.Equal(t, 20, p.DurationSeconds)
	assert.Equal(t, 2, p.RampUpSeconds)
	assert.Equal(t, 8*time.Second, p.RequestTimeout)
	assert.Equal(t, "abc", p.Headers.Get("X-Trace"))
	assert.True(t, p.Insecure)
}

func TestBuildPlanFromTargetsFile(t *testing.T) {
	t.Cleanup(resetRunFlags)

	path := filepath.Join(t.TempDir(), "targets.json")
	payload := `[
		{"method": "GET", "uri_template": "http://api.test/users/{{id}}"},
		{"method": "POST", "uri_template": "http://api.test/orders", "requires_auth": true}
	]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	targetsFile = path
	p, err := buildPlan()
	require.NoError(t, err)

	require.Len(t, p.Targets, 2)
	assert.Equal(t, "http://api.test/users/{{id}}", p.Targets[0].URITemplate)
	assert.True(t, p.Targets[1].RequiresAuth)
}

func TestLoadTargetsRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := loadTargets(path)
	assert.ErrorContains(t, err, "parse targets file")

	_, err = loadTargets(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read targets file")
}
