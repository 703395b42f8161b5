package vouch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/meigma/vouch"
)

func TestCountValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version uint64
		total   uint64
		wantErr bool
	}{
		{name: "below total", version: 2, total: 5},
		{name: "equal", version: 5, total: 5},
		{name: "zero", version: 0, total: 0},
		{name: "above total", version: 6, total: 5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			crate := vouch.CrateCounts{Version: tt.version, Total: tt.total}.Validate()
			trust := vouch.TrustCount{Trusted: tt.version, Total: tt.total}.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, crate, vouch.ErrCollaborator)
				assert.ErrorIs(t, trust, vouch.ErrCollaborator)
				return
			}
			assert.NoError(t, crate)
			assert.NoError(t, trust)
		})
	}
}

func TestTrustLevelText(t *testing.T) {
	t.Parallel()

	for _, l := range []vouch.TrustLevel{vouch.TrustDistrust, vouch.TrustNone, vouch.TrustLow, vouch.TrustMedium, vouch.TrustHigh} {
		got, err := vouch.ParseTrustLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	got, err := vouch.ParseTrustLevel("HIGH")
	require.NoError(t, err)
	assert.Equal(t, vouch.TrustHigh, got)

	_, err = vouch.ParseTrustLevel("absolute")
	assert.ErrorIs(t, err, vouch.ErrPolicy)
	assert.True(t, vouch.TrustLow < vouch.TrustMedium && vouch.TrustDistrust < vouch.TrustNone)
}

func TestRequirementsYAML(t *testing.T) {
	t.Parallel()

	var req vouch.VerificationRequirements
	doc := "trust_level: medium\nredundancy: 2\nunderstanding: high\nthoroughness: low\nmax_age: 720h\n"
	require.NoError(t, yaml.Unmarshal([]byte(doc), &req))
	assert.Equal(t, vouch.VerificationRequirements{
		TrustLevel:    vouch.TrustMedium,
		Redundancy:    2,
		Understanding: vouch.LevelHigh,
		Thoroughness:  vouch.LevelLow,
		MaxAge:        720 * time.Hour,
	}, req)
	assert.NoError(t, req.Validate())

	assert.Error(t, yaml.Unmarshal([]byte("understanding: total\n"), &req))
}

func TestRequirementsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, vouch.DefaultRequirements().Validate())
	for _, req := range []vouch.VerificationRequirements{
		{TrustLevel: vouch.TrustLow},
		{TrustLevel: vouch.TrustNone, Redundancy: 1},
		{TrustLevel: vouch.TrustDistrust, Redundancy: 1},
		{TrustLevel: vouch.TrustLow, Redundancy: 1, MaxAge: -time.Second},
	} {
		assert.ErrorIs(t, req.Validate(), vouch.ErrPolicy, "%+v", req)
	}
}

func TestTrustSet(t *testing.T) {
	t.Parallel()

	var empty *vouch.TrustSet
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.IDs())
	assert.Equal(t, vouch.TrustNone, empty.Level("bob"))
	assert.False(t, empty.Satisfies("bob", vouch.TrustLow))
	assert.True(t, empty.Satisfies("bob", vouch.TrustNone))

	ts := vouch.NewTrustSet()
	ts.Set("carol", vouch.TrustHigh, 0)
	ts.Set("bob", vouch.TrustLow, 5)
	assert.Equal(t, []vouch.Identity{"bob", "carol"}, ts.IDs())
	assert.True(t, ts.Satisfies("bob", vouch.TrustLow))
	assert.False(t, ts.Satisfies("bob", vouch.TrustMedium))

	entry, ok := ts.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, vouch.TrustedID{Level: vouch.TrustLow, Distance: 5}, entry)

	ts.Remove("bob")
	assert.Equal(t, 1, ts.Len())
}

func TestDistanceParamsEdgeCost(t *testing.T) {
	t.Parallel()

	p := vouch.DefaultDistanceParams()
	for level, want := range map[vouch.TrustLevel]uint64{vouch.TrustHigh: 0, vouch.TrustMedium: 1, vouch.TrustLow: 5} {
		got, ok := p.EdgeCost(level)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := p.EdgeCost(vouch.TrustNone)
	assert.False(t, ok)
	_, ok = p.EdgeCost(vouch.TrustDistrust)
	assert.False(t, ok)
}

func TestPackageIDPURL(t *testing.T) {
	t.Parallel()

	id := vouch.PackageID{Source: vouch.SourceCratesIO, Name: "serde", Version: "1.0.0"}
	assert.Equal(t, "pkg:cargo/serde@1.0.0", id.PURL())
	assert.Equal(t, "serde@1.0.0", id.String())

	other := vouch.PackageID{Source: "https://example.com", Name: "left-pad", Version: "0.1.0"}
	assert.Contains(t, other.PURL(), "pkg:generic/left-pad@0.1.0?repository_url=")
}

func TestVerificationGlyph(t *testing.T) {
	t.Parallel()

	glyphs := map[string]bool{}
	for _, v := range []vouch.Verification{vouch.VerificationNone, vouch.VerificationInsufficient, vouch.VerificationVerified, vouch.VerificationFlagged} {
		assert.Len(t, v.Glyph(), 4)
		glyphs[v.Glyph()] = true
		assert.Equal(t, v == vouch.VerificationVerified, v.IsVerified())
	}
	assert.Len(t, glyphs, 4)
}
