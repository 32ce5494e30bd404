package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostplane/provision/internal/config"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

func buildTestGraph(t *testing.T) *Graph {
	t.Helper()

	actions := []config.ActionSpec{
		commandAction("install_db"),
		commandAction("install_proxy"),
		commandAction("create_db", "install_db"),
		commandAction("configure_tls", "install_proxy"),
		commandAction("deploy_app", "create_db", "configure_tls"),
	}

	graph, err := BuildDAG(actions)
	require.NoError(t, err)
	return graph
}

func TestGeneratePlan_FullCatalog(t *testing.T) {
	plan, err := GeneratePlan(buildTestGraph(t), nil)
	require.NoError(t, err)

	require.Equal(t, 5, plan.Size())
	require.Equal(t, [][]string{
		{"install_db", "install_proxy"},
		{"create_db", "configure_tls"},
		{"deploy_app"},
	}, plan.Levels)
}

func TestGeneratePlan_OnlyIncludesTransitiveDependencies(t *testing.T) {
	plan, err := GeneratePlan(buildTestGraph(t), []string{"create_db"})
	require.NoError(t, err)

	require.Equal(t, []string{"install_db", "create_db"}, plan.ActionIDs())
}

func TestGeneratePlan_OnlyDeepClosure(t *testing.T) {
	plan, err := GeneratePlan(buildTestGraph(t), []string{"deploy_app"})
	require.NoError(t, err)

	// Everything deploy_app transitively depends on must be scheduled.
	require.ElementsMatch(t,
		[]string{"install_db", "install_proxy", "create_db", "configure_tls", "deploy_app"},
		plan.ActionIDs())
}

func TestGeneratePlan_OnlyMultipleTargets(t *testing.T) {
	plan, err := GeneratePlan(buildTestGraph(t), []string{"create_db", "configure_tls"})
	require.NoError(t, err)

	require.ElementsMatch(t,
		[]string{"install_db", "install_proxy", "create_db", "configure_tls"},
		plan.ActionIDs())
}

func TestGeneratePlan_OnlyUnknownID(t *testing.T) {
	_, err := GeneratePlan(buildTestGraph(t), []string{"no_such_action"})

	var cfgErr *proverrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), "no_such_action")
}

func TestGeneratePlan_PreservesLevelOrderUnderSelection(t *testing.T) {
	plan, err := GeneratePlan(buildTestGraph(t), []string{"configure_tls", "create_db"})
	require.NoError(t, err)

	require.Equal(t, [][]string{
		{"install_db", "install_proxy"},
		{"create_db", "configure_tls"},
	}, plan.Levels)
}

func TestPlan_String(t *testing.T) {
	plan, err := GeneratePlan(buildTestGraph(t), nil)
	require.NoError(t, err)

	out := plan.String()
	require.Contains(t, out, "Level 1")
	require.Contains(t, out, "install_db")
	require.Contains(t, out, "deploy_app")
}

func TestPlan_EmptyGraph(t *testing.T) {
	graph, err := BuildDAG(nil)
	require.NoError(t, err)

	plan, err := GeneratePlan(graph, nil)
	require.NoError(t, err)
	require.Zero(t, plan.Size())
	require.Empty(t, plan.ActionIDs())
}
