// SPDX-License-Identifier: Apache-2.0

package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

const businessYAML = `id: business_1
name: Taqueria del Sol
description: Authentic Mexican food
rating: 4.5
menu_features:
  tacos: 8.99
  burritos: 10.99
amenity_features:
  outdoor_seating: true
  wifi: false
`

const customerYAML = `id: customer_1
name: Dana
request: spicy tacos and a burrito
menu_features:
  tacos: 12.00
  burritos: 11.50
amenity_features:
  - outdoor_seating
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "businesses", "business_1.yaml"), businessYAML)
	writeFile(t, filepath.Join(dir, "businesses", "business_0.yml"), "id: business_0\nname: Early Bird\nrating: 3\n")
	writeFile(t, filepath.Join(dir, "businesses", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "customers", "customer_1.yaml"), customerYAML)

	set, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, set.Businesses, 2)
	assert.Equal(t, "business_0", set.Businesses[0].ID, "files load in name order")

	b := set.Businesses[1]
	assert.Equal(t, "Taqueria del Sol", b.Name)
	assert.InDelta(t, 10.99, b.MenuFeatures["burritos"], 1e-9)
	assert.Equal(t, []string{"outdoor_seating"}, b.TrueAmenities())

	require.Len(t, set.Customers, 1)
	c := set.Customers[0]
	assert.Equal(t, []string{"outdoor_seating"}, c.AmenityFeatures)
	assert.InDelta(t, 23.5, c.TotalWillingnessToPay(), 1e-9)

	profiles := set.Profiles()
	require.Len(t, profiles, 3)
	assert.Equal(t, domain.KindBusiness, profiles[0].Kind)
	assert.Equal(t, domain.KindCustomer, profiles[2].Kind)
	for _, p := range profiles {
		assert.NoError(t, p.Validate())
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing data dir", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})

	t.Run("empty businesses dir", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "businesses"), 0o755))
		writeFile(t, filepath.Join(dir, "customers", "c.yaml"), customerYAML)

		_, err := Load(dir)
		assert.ErrorIs(t, err, ErrNoProfiles)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "businesses", "b.yaml"), "id: [unterminated\n")
		writeFile(t, filepath.Join(dir, "customers", "c.yaml"), customerYAML)

		_, err := Load(dir)
		assert.ErrorContains(t, err, "parse")
	})

	t.Run("customer without request", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "businesses", "b.yaml"), businessYAML)
		writeFile(t, filepath.Join(dir, "customers", "c.yaml"), "id: customer_1\nname: Dana\n")

		_, err := Load(dir)
		assert.ErrorIs(t, err, domain.ErrInvalidAction)
	})

	t.Run("duplicate ids across kinds", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "businesses", "b.yaml"), businessYAML)
		writeFile(t, filepath.Join(dir, "customers", "c.yaml"), "id: business_1\nname: Dana\nrequest: tacos\n")

		_, err := Load(dir)
		assert.ErrorIs(t, err, domain.ErrDuplicateID)
	})
}
