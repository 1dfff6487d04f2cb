package datamodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffectedPathsForSetResolvesNestedInstanceRow(t *testing.T) {
	_, store := newTestStore(t)
	resolver := NewResolver(store)

	affected, err := resolver.AffectedPathsForSet("Device.Services.HomeAutomation.1.Camera.1.")
	require.NoError(t, err)
	require.Len(t, affected, 1)
	assert.Equal(t, "Device.Services.HomeAutomation.1.Camera.1.", affected[0])
}

func TestAffectedPathsForSetRejectsNonexistentNestedInstance(t *testing.T) {
	_, store := newTestStore(t)
	resolver := NewResolver(store)

	_, err := resolver.AffectedPathsForSet("Device.Services.HomeAutomation.1.Camera.99.")
	assert.Error(t, err)
}

func TestAffectedPathsForGetResolvesNestedWildcardRow(t *testing.T) {
	_, store := newTestStore(t)
	resolver := NewResolver(store)

	affected, err := resolver.AffectedPathsForGet("Device.Services.HomeAutomation.1.Camera.1.Pic.*.")
	require.NoError(t, err)
	require.Len(t, affected, 2)
	assert.Equal(t, "Device.Services.HomeAutomation.1.Camera.1.Pic.9.", affected[0])
	assert.Equal(t, "Device.Services.HomeAutomation.1.Camera.1.Pic.10.", affected[1])
}
