package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"catmarket/models"
)

func TestCanTransitionTender(t *testing.T) {
	tests := []struct {
		name string
		from models.TenderStatus
		to   models.TenderStatus
		want bool
	}{
		{"submitted可以轉為active", models.TenderStatusSubmitted, models.TenderStatusActive, true},
		{"active可以被接受", models.TenderStatusActive, models.TenderStatusAccepted, true},
		{"active可以被拒絕", models.TenderStatusActive, models.TenderStatusRejected, true},
		{"active可以被撤回", models.TenderStatusActive, models.TenderStatusCancelled, true},
		{"active可以過期", models.TenderStatusActive, models.TenderStatusExpired, true},
		{"accepted是最終狀態", models.TenderStatusAccepted, models.TenderStatusRejected, false},
		{"rejected是最終狀態", models.TenderStatusRejected, models.TenderStatusActive, false},
		{"cancelled不能復活", models.TenderStatusCancelled, models.TenderStatusActive, false},
		{"expired不能被接受", models.TenderStatusExpired, models.TenderStatusAccepted, false},
		{"submitted不能直接被接受", models.TenderStatusSubmitted, models.TenderStatusAccepted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTender(tt.from, tt.to))
		})
	}
}

func TestTransitionTender(t *testing.T) {
	t.Run("合法轉移會更新狀態", func(t *testing.T) {
		tender := models.Tender{Status: models.TenderStatusActive}
		err := TransitionTender(&tender, models.TenderStatusAccepted)
		assert.NoError(t, err)
		assert.Equal(t, models.TenderStatusAccepted, tender.Status)
	})

	t.Run("不合法轉移報錯且不改變狀態", func(t *testing.T) {
		tender := models.Tender{Status: models.TenderStatusAccepted}
		err := TransitionTender(&tender, models.TenderStatusCancelled)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
		assert.Equal(t, models.TenderStatusAccepted, tender.Status)
	})
}

func TestTransitionListing(t *testing.T) {
	t.Run("active的刊登可以售出", func(t *testing.T) {
		listing := models.Listing{Status: models.ListingStatusActive}
		assert.NoError(t, TransitionListing(&listing, models.ListingStatusSold))
		assert.Equal(t, models.ListingStatusSold, listing.Status)
	})

	t.Run("售出的刊登不能再過期", func(t *testing.T) {
		listing := models.Listing{Status: models.ListingStatusSold}
		err := TransitionListing(&listing, models.ListingStatusExpired)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	})

	t.Run("過期的刊登不能售出", func(t *testing.T) {
		listing := models.Listing{Status: models.ListingStatusExpired}
		err := TransitionListing(&listing, models.ListingStatusSold)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	})
}
