package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/bookwright/internal/narrative"
)

func TestContractsCoverEveryRole(t *testing.T) {
	for _, r := range narrative.Roles {
		c, ok := Contracts[r]
		require.True(t, ok, "role %s", r)
		assert.NotZero(t, c.Writes, "role %s writes nothing", r)
	}
}

func TestContractsOnlyWriteWhatStoreAllows(t *testing.T) {
	kinds := map[narrative.Field][]narrative.PatchKind{
		narrative.FieldOutline:     {narrative.PatchOutline, narrative.PatchAmendment},
		narrative.FieldCast:        {narrative.PatchCast},
		narrative.FieldAnnotations: {narrative.PatchAnnotations},
	}
	for role, c := range Contracts {
		for field, patches := range kinds {
			if !c.Writes.Has(field) {
				continue
			}
			allowed := false
			for _, k := range patches {
				allowed = allowed || narrative.CanWrite(role, k)
			}
			assert.True(t, allowed, "%s declares %s but the store refuses it", role, field)
		}
	}
}

func TestValidatePipeline(t *testing.T) {
	tests := []struct {
		name    string
		roles   []narrative.Role
		wantErr string
	}{
		{name: "full crew", roles: narrative.Roles},
		{
			name: "no reviewers",
			roles: []narrative.Role{
				narrative.RolePlotArchitect,
				narrative.RoleCharacterDesigner,
				narrative.RoleWriter,
				narrative.RoleQualityAnalyst,
			},
		},
		{
			name: "missing writer",
			roles: []narrative.Role{
				narrative.RolePlotArchitect,
				narrative.RoleCharacterDesigner,
				narrative.RoleQualityAnalyst,
			},
			wantErr: "needs",
		},
		{
			name: "missing quality analyst",
			roles: []narrative.Role{
				narrative.RolePlotArchitect,
				narrative.RoleCharacterDesigner,
				narrative.RoleWriter,
			},
			wantErr: "verdict",
		},
		{
			name: "missing character designer",
			roles: []narrative.Role{
				narrative.RolePlotArchitect,
				narrative.RoleWriter,
				narrative.RoleQualityAnalyst,
			},
			wantErr: "cast",
		},
		{
			name:    "unknown role",
			roles:   append([]narrative.Role{"ghostwriter"}, narrative.Roles...),
			wantErr: "no contract",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePipeline(tt.roles)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestContractScope(t *testing.T) {
	s := Contracts[narrative.RoleWriter].Scope(4)
	assert.Equal(t, 4, s.Chapter)
	assert.True(t, s.Fields.Has(narrative.FieldPriorChapters))
	assert.False(t, s.Fields.Has(narrative.FieldDraft))
}
