package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoleprov/consoleprov/pkg/console"
	"github.com/consoleprov/consoleprov/pkg/console/consoletest"
)

func TestCollectorObservesSessions(t *testing.T) {
	c := New("consoleprov")
	s := console.NewScript("probe").
		Expect("banner", 100*time.Millisecond, console.On(console.Literal("login:"))).
		Inspect(func(*console.Match) *console.Warning {
			return &console.Warning{Kind: console.WarnChecksumMismatch}
		}).
		MustBuild()

	r := console.NewRunner(consoletest.Script("login:").Dialer(),
		console.WithObserver(c), console.WithPollInterval(5*time.Millisecond))
	r.Run(context.Background(), console.Endpoint{Host: "h", Port: 1}, s)

	r = console.NewRunner(consoletest.Script("garbage").Dialer(),
		console.WithObserver(c), console.WithPollInterval(5*time.Millisecond))
	r.Run(context.Background(), console.Endpoint{Host: "h", Port: 1}, s)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `consoleprov_sessions_total{outcome="succeeded",script="probe"} 1`)
	assert.Contains(t, body, `consoleprov_sessions_total{outcome="step_timeout",script="probe"} 1`)
	assert.Contains(t, body, "consoleprov_active_sessions 0")
	assert.Contains(t, body, "consoleprov_checksum_mismatch_total 1")
	assert.Contains(t, body, `consoleprov_step_duration_seconds_count{result="error",script="probe",step="banner"} 1`)
}
