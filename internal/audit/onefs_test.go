package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOneFSController(url string) *OneFSController {
	c := NewOneFSController()
	c.baseURL = url
	c.maxElapsed = 2 * time.Second
	return c
}

func TestOneFSConfigure(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/audit/settings/global", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	appliance := testAppliance("Dell")
	appliance.Management.Address = "isi-mgmt.example.com"

	c := testOneFSController(srv.URL)
	dest := Destination{Address: "198.51.100.20", Port: 55555, Protocol: "udp"}
	require.NoError(t, c.Configure(context.Background(), appliance, dest))

	assert.Equal(t, "isi", gotBody["hostname"])
	assert.Equal(t, true, gotBody["protocol_auditing_enabled"])
	assert.Equal(t, []interface{}{"198.51.100.20:55555"}, gotBody["protocol_syslog_servers"])
	assert.Equal(t, []interface{}{"198.51.100.20:55555"}, gotBody["system_syslog_servers"])
	assert.Equal(t, []interface{}{"System"}, gotBody["audited_zones"])
}

func TestOneFSClear(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testOneFSController(srv.URL)
	dest := Destination{Address: "198.51.100.20", Port: 55555, Protocol: "udp"}
	require.NoError(t, c.Clear(context.Background(), testAppliance("Dell"), dest))

	assert.Equal(t, false, gotBody["protocol_auditing_enabled"])
	assert.Equal(t, false, gotBody["config_auditing_enabled"])
	assert.Empty(t, gotBody["protocol_syslog_servers"])
	assert.Equal(t, float64(180), gotBody["retention_period"])
}

func TestOneFSClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad settings", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := testOneFSController(srv.URL)
	dest := Destination{Address: "198.51.100.20", Port: 55555, Protocol: "udp"}
	err := c.Configure(context.Background(), testAppliance("Dell"), dest)

	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Status)
	assert.Equal(t, 1, attempts)
}

func TestOnefsHostname(t *testing.T) {
	assert.Equal(t, "isi", onefsHostname("isi-mgmt.example.com"))
	assert.Equal(t, "cluster1", onefsHostname("cluster1.example.com"))
	assert.Equal(t, "cluster1", onefsHostname("cluster1"))
}

func TestControllerFor(t *testing.T) {
	c, err := ControllerFor(testAppliance("NetApp"))
	require.NoError(t, err)
	assert.IsType(t, &ONTAPController{}, c)

	c, err = ControllerFor(testAppliance("Dell Technologies"))
	require.NoError(t, err)
	assert.IsType(t, &OneFSController{}, c)

	_, err = ControllerFor(testAppliance("Unknown Vendor"))
	assert.Error(t, err)
}

func TestCommandsFor(t *testing.T) {
	assert.NotEmpty(t, commandsFor("NetApp"))
	assert.Empty(t, commandsFor("Dell"))
}
