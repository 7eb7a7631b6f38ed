package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func itemValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("itemstatus", func(fl validator.FieldLevel) bool {
			return ItemStatus(fl.Field().String()).IsValid()
		})
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidateItem checks the structural invariants of an item snapshot.
// It returns nil or an error whose details can be read with ValidationDetails.
func ValidateItem(item InventoryItem) error {
	if err := itemValidator().Struct(item); err != nil {
		return err
	}

	last := item.History[len(item.History)-1]
	if last.NewStatus != item.Status {
		return fmt.Errorf("history tail status %q does not match item status %q", last.NewStatus, item.Status)
	}
	if !last.Date.Equal(item.LastUpdated) {
		return fmt.Errorf("lastUpdated %s does not match the last history entry date %s",
			item.LastUpdated.Format(time.RFC3339Nano), last.Date.Format(time.RFC3339Nano))
	}
	for i := 1; i < len(item.History); i++ {
		prev := item.History[i].PreviousStatus
		if prev == nil || *prev != item.History[i-1].NewStatus {
			return fmt.Errorf("history entry %d breaks the transition chain", i)
		}
	}
	return nil
}

// ValidationDetails flattens a validation error into API error details
func ValidationDetails(err error) []ErrorDetail {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ErrorDetail{{Field: "item", Issue: err.Error()}}
	}

	details := make([]ErrorDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ErrorDetail{
			Field: strings.TrimPrefix(fe.Namespace(), "InventoryItem."),
			Issue: fmt.Sprintf("failed on %q", fe.Tag()),
		})
	}
	return details
}
