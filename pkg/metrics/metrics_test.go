package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/relves/vaultgate/pkg/metrics"
	"github.com/relves/vaultgate/pkg/types"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.Observe(types.KindTreasury, "execute", nil)
	m.Observe(types.KindTreasury, "execute", types.ErrDailyCapExceeded)
	m.Observe(types.KindTreasury, "execute", types.ErrDailyCapExceeded)

	expected := `
# HELP vaultgate_operations_total Governor operations by resource kind, operation and result code
# TYPE vaultgate_operations_total counter
vaultgate_operations_total{kind="treasury",operation="execute",result="DAILY_CAP_EXCEEDED"} 2
vaultgate_operations_total{kind="treasury",operation="execute",result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "vaultgate_operations_total"))
}

func TestSetResource(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.SetResource(&types.Resource{ID: "t1", Kind: types.KindTreasury, Frozen: true, Spend: types.SpendWindow{Spent: 42}})
	m.SetResource(&types.Resource{ID: "e1", Kind: types.KindEmergency, Pause: &types.PauseState{Paused: true}})
	m.Transferred("t1", 42)

	n, err := testutil.GatherAndCount(reg, "vaultgate_window_spent", "vaultgate_frozen", "vaultgate_paused")
	require.NoError(t, err)
	// t1 has spent and frozen, e1 has paused.
	require.Equal(t, 3, n)

	expected := `
# HELP vaultgate_window_spent Value spent in the current rolling window
# TYPE vaultgate_window_spent gauge
vaultgate_window_spent{resource="t1"} 42
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "vaultgate_window_spent"))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	require.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics
	m.Observe(types.KindGovernance, "propose", nil)
	m.Transferred("x", 1)
	m.SetResource(&types.Resource{})
}
