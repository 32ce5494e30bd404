package serviceaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/hostfacts"
	"github.com/hostplane/provision/internal/model"
)

func serviceRequest(facts *hostfacts.Facts, cfg *config.ServiceAction) *action.Request {
	return &action.Request{
		Spec: &config.ActionSpec{
			ID:      "enable_proxy",
			Type:    "service",
			Service: cfg,
		},
		Facts:  facts,
		Params: map[string]string{},
	}
}

func TestService_Metadata(t *testing.T) {
	a := New()
	require.Equal(t, "service", a.ActionMetadata().Type)
	require.IsType(t, config.ServiceAction{}, a.Schema())
}

func TestService_MissingConfig(t *testing.T) {
	a := New()
	_, err := a.Probe(context.Background(), serviceRequest(nil, nil))
	require.Error(t, err)
}

func TestService_NoSystemd(t *testing.T) {
	a := New()
	facts := &hostfacts.Facts{HasSystemd: false}

	_, err := a.Probe(context.Background(), serviceRequest(facts, &config.ServiceAction{Unit: "nginx"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "systemd")
}

func TestService_ApplyWithNothingPendingSkips(t *testing.T) {
	a := New()
	req := serviceRequest(nil, &config.ServiceAction{Unit: "nginx"})

	result, err := a.Apply(context.Background(), req, &model.ProbeResult{
		ActionID:     "enable_proxy",
		Status:       model.StatusPresent,
		InternalData: &probeData{},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSkipped, result.Status)
}
