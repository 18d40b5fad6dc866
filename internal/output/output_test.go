package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestColorHelpers(t *testing.T) {
	// Color helpers should return non-empty strings
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
}

func TestStageColor(t *testing.T) {
	assert.NotEmpty(t, StageColor("Todo", "unstarted"))
	assert.NotEmpty(t, StageColor("In Progress", "started"))
	assert.NotEmpty(t, StageColor("Review", "review"))
	assert.NotEmpty(t, StageColor("Done", "completed"))
	assert.NotEmpty(t, StageColor("Canceled", "canceled"))
	assert.Equal(t, "Backlog", StageColor("Backlog", "backlog"))
}

func TestPriorityColor(t *testing.T) {
	assert.NotEmpty(t, PriorityColor("urgent"))
	assert.NotEmpty(t, PriorityColor("high"))
	assert.NotEmpty(t, PriorityColor("medium"))
	assert.NotEmpty(t, PriorityColor("low"))
	assert.Equal(t, "none", PriorityColor("none"))
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Key", "Title"})
	require.NotNil(t, table)

	table.Append([]string{"ENG-1", "Fix login"})
	table.Append([]string{"ENG-2", "Add caching"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.True(t, strings.Contains(result, "ENG-1"),
		"table output should contain issue keys")
	assert.True(t, strings.Contains(result, "Fix login"),
		"table output should contain titles")
}
