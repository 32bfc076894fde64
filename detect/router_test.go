package detect

import (
	"sync/atomic"
	"testing"
	"time"

	"argus/util/goroutine"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCriticalEventTypes(t *testing.T) {
	for _, eventType := range []string{"4625", "4672", "4720", "1102", "4688", "failed_login", "privilege_escalation"} {
		event := testEvent(eventType, "app")
		assert.Equal(t, PriorityHigh, classify(event), "event type %s", eventType)
	}

	assert.Equal(t, PriorityNormal, classify(testEvent("4624", "app")))
}

func TestClassifyCriticalSources(t *testing.T) {
	assert.Equal(t, PriorityHigh, classify(testEvent("generic", "Security")))
	assert.Equal(t, PriorityHigh, classify(testEvent("generic", "domain_controller")))
	assert.Equal(t, PriorityNormal, classify(testEvent("generic", "webapp")))
}

func TestClassifySeverityAndMetadata(t *testing.T) {
	event := testEvent("generic", "app")
	event.Severity = "CRITICAL"
	assert.Equal(t, PriorityHigh, classify(event))

	event = testEvent("generic", "app")
	event.Metadata = map[string]interface{}{"priority": "high"}
	assert.Equal(t, PriorityHigh, classify(event))

	event = testEvent("generic", "app")
	event.Metadata = map[string]interface{}{"priority": "low"}
	assert.Equal(t, PriorityNormal, classify(event))
}

func TestClassifyPrivilegedAccounts(t *testing.T) {
	for _, user := range []string{"Administrator", "root", "svc_backup", "db-admin"} {
		event := testEvent("generic", "app")
		event.UserName = user
		assert.Equal(t, PriorityHigh, classify(event), "user %s", user)
	}

	event := testEvent("generic", "app")
	event.UserName = "alice"
	assert.Equal(t, PriorityNormal, classify(event))
}

func TestRouterClassifyMemo(t *testing.T) {
	router, err := NewPriorityRouter(testConfig(t), testLogger(t))
	require.NoError(t, err)

	event := testEvent("4625", "security")
	first := router.Classify(event)
	second := router.Classify(event)
	assert.Equal(t, PriorityHigh, first)
	assert.Equal(t, first, second)
}

func TestRouterClassifyMetadataPriorityBypassesMemo(t *testing.T) {
	router, err := NewPriorityRouter(testConfig(t), testLogger(t))
	require.NoError(t, err)

	// Memoize a plain event's verdict first
	plain := testEvent("generic", "app")
	require.Equal(t, PriorityNormal, router.Classify(plain))

	escalated := testEvent("generic", "app")
	escalated.Metadata = map[string]interface{}{"priority": "critical"}
	assert.Equal(t, PriorityHigh, router.Classify(escalated),
		"metadata priority must not be shadowed by a memoized verdict")

	// The memoized verdict still serves events without metadata priority
	assert.Equal(t, PriorityNormal, router.Classify(plain))
}

func TestRouterDispatchRoutesByPriority(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	router, err := NewPriorityRouter(testConfig(t), testLogger(t))
	require.NoError(t, err)
	require.NoError(t, router.Start())
	defer router.Stop()

	var ran atomic.Int64
	ok := router.Dispatch(testEvent("4625", "security"), func() { ran.Add(1) })
	assert.True(t, ok)
	ok = router.Dispatch(testEvent("4624", "webapp"), func() { ran.Add(1) })
	assert.True(t, ok)

	waitForCondition(t, func() bool {
		return ran.Load() == 2
	}, 2*time.Second, "dispatched tasks to run")
}

func TestRouterDispatchDropsWhenSaturated(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	viper.Reset()
	viper.Set("engine.fast_pool.workers", 1)
	viper.Set("engine.fast_pool.queue_size", 1)
	viper.Set("engine.fast_pool.submit_timeout_ms", 10)
	cfg, err := testConfigLoad()
	require.NoError(t, err)

	router, err := NewPriorityRouter(cfg, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, router.Start())

	block := make(chan struct{})
	event := testEvent("4625", "security")

	// Occupy the single fast worker, then fill its single queue slot
	require.True(t, router.Dispatch(event, func() { <-block }))
	waitForCondition(t, func() bool {
		return router.Dispatch(event, func() { <-block })
	}, 2*time.Second, "fast queue slot filled")

	assert.False(t, router.Dispatch(event, func() {}), "saturated fast pool drops within its submit timeout")

	close(block)
	router.Stop()
}
