package compliance

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisclaimerService_AddDisclaimer(t *testing.T) {
	service := NewDisclaimerService(nil, DefaultDisclaimerConfig())

	out, err := service.AddDisclaimer(context.Background(), "Your visit is at 10am.", DisclaimerOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Your visit is at 10am."))
	assert.Contains(t, out, "automated assistant")

	// Adding twice is a no-op.
	again, err := service.AddDisclaimer(context.Background(), out, DisclaimerOptions{})
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestDisclaimerService_Disabled(t *testing.T) {
	service := NewDisclaimerService(nil, DisclaimerConfig{Enabled: false})

	out, err := service.AddDisclaimer(context.Background(), "hello", DisclaimerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.False(t, service.ShouldAddDisclaimer(true))
}

func TestDisclaimerService_FirstMessageOnly(t *testing.T) {
	service := NewDisclaimerService(nil, DisclaimerConfig{
		Level:            DisclaimerShort,
		Enabled:          true,
		FirstMessageOnly: true,
	})

	assert.True(t, service.ShouldAddDisclaimer(true))
	assert.False(t, service.ShouldAddDisclaimer(false))

	out, err := service.AddDisclaimer(context.Background(), "reply two", DisclaimerOptions{IsFirstMessage: false})
	require.NoError(t, err)
	assert.Equal(t, "reply two", out)
}

func TestDisclaimerService_Text(t *testing.T) {
	custom := NewDisclaimerService(nil, DisclaimerConfig{
		Enabled:    true,
		CustomText: "Sunrise Family Medicine automated line.",
	})
	assert.Equal(t, "Sunrise Family Medicine automated line.", custom.GetDisclaimerText())

	short := NewDisclaimerService(nil, DisclaimerConfig{Enabled: true, Level: DisclaimerShort})
	assert.Equal(t, disclaimerTemplates[DisclaimerShort], short.GetDisclaimerText())

	// An unknown level falls back to the medium wording.
	unknown := NewDisclaimerService(nil, DisclaimerConfig{Enabled: true, Level: "verbose"})
	assert.Equal(t, disclaimerTemplates[DisclaimerMedium], unknown.GetDisclaimerText())
}
