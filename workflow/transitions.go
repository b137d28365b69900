// Package workflow 實作出價與刊登的生命週期狀態機
// 出價狀態: submitted → active → {accepted, rejected, cancelled, expired}
// 刊登狀態: active → {sold, expired}
// 所有終止狀態都是最終狀態；不合法的轉移一律明確報錯，不會被默默忽略
package workflow

import (
	"errors"
	"fmt"

	"catmarket/models"
)

var (
	// ErrInvalidStateTransition 代表嘗試了不合法的狀態轉移
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrPermissionDenied 代表呼叫者不是該操作的合法角色
	ErrPermissionDenied = errors.New("caller is not allowed to perform this transition")
	// ErrListingClosed 代表刊登已售出或過期，無法再操作
	ErrListingClosed = errors.New("listing is closed")
)

// tenderTransitions 列出出價狀態的合法轉移
var tenderTransitions = map[models.TenderStatus][]models.TenderStatus{
	models.TenderStatusSubmitted: {models.TenderStatusActive},
	models.TenderStatusActive: {
		models.TenderStatusAccepted,
		models.TenderStatusRejected,
		models.TenderStatusCancelled,
		models.TenderStatusExpired,
	},
}

// listingTransitions 列出刊登狀態的合法轉移
var listingTransitions = map[models.ListingStatus][]models.ListingStatus{
	models.ListingStatusActive: {models.ListingStatusSold, models.ListingStatusExpired},
}

// CanTransitionTender 回報出價狀態是否允許從from轉移到to
func CanTransitionTender(from, to models.TenderStatus) bool {
	for _, allowed := range tenderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionListing 回報刊登狀態是否允許從from轉移到to
func CanTransitionListing(from, to models.ListingStatus) bool {
	for _, allowed := range listingTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionTender 將出價轉移到新狀態，不合法時報錯
func TransitionTender(tender *models.Tender, to models.TenderStatus) error {
	if !CanTransitionTender(tender.Status, to) {
		return fmt.Errorf("%w: tender %s -> %s", ErrInvalidStateTransition, tender.Status, to)
	}
	tender.Status = to
	return nil
}

// TransitionListing 將刊登轉移到新狀態，不合法時報錯
func TransitionListing(listing *models.Listing, to models.ListingStatus) error {
	if !CanTransitionListing(listing.Status, to) {
		return fmt.Errorf("%w: listing %s -> %s", ErrInvalidStateTransition, listing.Status, to)
	}
	listing.Status = to
	return nil
}
