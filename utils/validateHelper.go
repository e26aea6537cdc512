package utils

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
)

// ValidateUnique fails when another row (other than exceptId) already holds value in column.
func ValidateUnique[T any](ctx context.Context, column string, value interface{}, exceptId int) error {
	var count int64
	var err error
	if exceptId == 0 {
		count, err = ResourceCountWhere[T](ctx, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records, using WHERE $condition
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T
	var count int64
	err := config.GetDB().WithContext(ctx).Model(&model).Where(condition, value...).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
