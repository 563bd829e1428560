package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The settings endpoint decodes request bodies straight into Settings, so the
// struct must speak the same snake_case the rest of the API does.
func TestSettingsJSONKeys(t *testing.T) {
	body := `{
		"approval_threshold": 1000000000,
		"manager_threshold": 50000000,
		"sla_supervisor": 240,
		"sla_manager": 360,
		"sla_finance": 240,
		"sla_admin": 0,
		"workday_start_min": 480,
		"workday_end_min": 1020,
		"workday_mask": 62
	}`

	var st Settings
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, int64(1000000000), st.ApprovalThreshold)
	assert.Equal(t, int64(50000000), st.ManagerThreshold)
	assert.Equal(t, 360, st.SLAManager)
	assert.Equal(t, 480, st.WorkdayStartMin)
	assert.Equal(t, 1020, st.WorkdayEndMin)
	assert.Equal(t, 62, st.WorkdayMask)

	out, err := json.Marshal(&st)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"approval_threshold"`)
	assert.Contains(t, string(out), `"workday_start_min"`)
	assert.NotContains(t, string(out), `"ApprovalThreshold"`)
}
