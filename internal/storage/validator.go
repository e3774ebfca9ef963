package storage

import (
	"fmt"
	"unicode/utf8"

	"github.com/dshills/catalogfeed/pkg/types"
)

// ValidateEntity checks field types and column lengths before a write.
// All violations are collected so the caller sees every problem at once.
func ValidateEntity(entity *IndexingEntity) error {
	if entity == nil {
		return types.NewValidationError("entity is nil")
	}

	var messages []string

	if entity.TargetEntityType == "" {
		messages = append(messages, "target_entity_type is required")
	} else if n := utf8.RuneCountInString(entity.TargetEntityType); n > MaxEntityTypeLength {
		messages = append(messages, fmt.Sprintf("target_entity_type length %d exceeds %d", n, MaxEntityTypeLength))
	}
	if n := utf8.RuneCountInString(entity.TargetEntitySubtype); n > MaxEntityTypeLength {
		messages = append(messages, fmt.Sprintf("target_entity_subtype length %d exceeds %d", n, MaxEntityTypeLength))
	}
	if entity.SiteID == "" {
		messages = append(messages, "site_id is required")
	} else if n := utf8.RuneCountInString(entity.SiteID); n > MaxSiteIDLength {
		messages = append(messages, fmt.Sprintf("site_id length %d exceeds %d", n, MaxSiteIDLength))
	}
	if entity.TargetID <= 0 {
		messages = append(messages, fmt.Sprintf("target_id must be positive, got %d", entity.TargetID))
	}
	if entity.TargetParentID != nil && *entity.TargetParentID < 0 {
		messages = append(messages, fmt.Sprintf("target_parent_id must not be negative, got %d", *entity.TargetParentID))
	}
	if !entity.NextAction.Valid() {
		messages = append(messages, fmt.Sprintf("next_action %q is not a known action", entity.NextAction))
	}
	if !entity.LastAction.Valid() {
		messages = append(messages, fmt.Sprintf("last_action %q is not a known action", entity.LastAction))
	}
	if entity.LockTimestamp != nil && *entity.LockTimestamp < 0 {
		messages = append(messages, "lock_timestamp must not be negative")
	}
	if entity.LastActionTimestamp != nil && *entity.LastActionTimestamp < 0 {
		messages = append(messages, "last_action_timestamp must not be negative")
	}

	if len(messages) > 0 {
		return types.NewValidationError(messages...)
	}
	return nil
}
