package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	c := &ApiClient{IsActive: true, Permissions: []string{"tandas:*"}}
	assert.True(t, c.HasPermission(PermTandasRead))
	assert.True(t, c.HasPermission(PermTandasControl))
	assert.False(t, c.HasPermission(PermScoresWrite))

	c.IsActive = false
	assert.False(t, c.HasPermission(PermTandasRead))

	var none *ApiClient
	assert.False(t, none.HasPermission(PermTandasRead))
}

func TestAllowsNarrowsJudgeClients(t *testing.T) {
	organizer := &ApiClient{IsActive: true, Permissions: []string{"*"}}
	judge := &ApiClient{IsActive: true, Permissions: []string{"*"}, Metadata: map[string]string{"judge_id": "j1"}}

	for _, perm := range []string{PermTandasRead, PermTandasControl, PermScoresWrite, PermCompetitionsWrite} {
		assert.True(t, organizer.Allows(perm), perm)
	}

	assert.True(t, judge.Allows(PermTandasRead))
	assert.True(t, judge.Allows(PermScoresWrite))
	assert.False(t, judge.Allows(PermTandasControl))
	assert.False(t, judge.Allows(PermCompetitionsWrite))
}
