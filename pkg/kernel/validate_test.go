package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

func TestValidateBatchRejectsEmpty(t *testing.T) {
	err := kernel.ValidateBatch(nil)
	assert.True(t, kernel.IsValidation(err))
}

func TestValidateBatchRejectsEmptyAggregateType(t *testing.T) {
	tenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()
	err := kernel.ValidateBatch([]kernel.UncommittedEvent{{
		TenantID:    tenant,
		AggregateID: aggregate,
		EventType:   "ItemCreated",
	}})
	assert.True(t, kernel.IsValidation(err))
}

func TestValidateBatchRejectsMixedStreamIdentity(t *testing.T) {
	tenant, _ := ids.NewTenantID()
	a1, _ := ids.NewAggregateID()
	a2, _ := ids.NewAggregateID()
	err := kernel.ValidateBatch([]kernel.UncommittedEvent{
		{TenantID: tenant, AggregateID: a1, AggregateType: "Item", EventType: "ItemCreated"},
		{TenantID: tenant, AggregateID: a2, AggregateType: "Item", EventType: "ItemCreated"},
	})
	assert.True(t, kernel.IsValidation(err))
}

func TestValidateBatchAcceptsWellFormedBatch(t *testing.T) {
	tenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()
	err := kernel.ValidateBatch([]kernel.UncommittedEvent{
		{TenantID: tenant, AggregateID: aggregate, AggregateType: "Item", EventType: "ItemCreated"},
		{TenantID: tenant, AggregateID: aggregate, AggregateType: "Item", EventType: "ItemAdjusted"},
	})
	assert.NoError(t, err)
}
