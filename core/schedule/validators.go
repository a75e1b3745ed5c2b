package schedule

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/ratiba/core"
)

var (
	endAfterStartTag  = "endafterstart"
	endAfterStartText = "{0} must be after start_time"

	recurringOnlyTag  = "recurringonly"
	recurringOnlyText = "{0} is only allowed for recurring schedules"

	customOnlyTag  = "customonly"
	customOnlyText = "{0} is only allowed with the custom recurrence pattern"

	requiredTag = "required"
)

// InitValidators registers the schedule validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(newScheduleStructValidation, NewSchedule{})
	validate.RegisterStructValidation(transitionStructValidation, TransitionRequest{})
	core.RegisterCustomTranslation(validate, translator, endAfterStartTag, endAfterStartText)
	core.RegisterCustomTranslation(validate, translator, recurringOnlyTag, recurringOnlyText)
	core.RegisterCustomTranslation(validate, translator, customOnlyTag, customOnlyText)
}

func newScheduleStructValidation(sl validator.StructLevel) {
	ns := sl.Current().Interface().(NewSchedule)

	if ns.ClassDate.IsZero() {
		sl.ReportError(ns.ClassDate, "class_date", "ClassDate", requiredTag, "")
	}

	start, sErr := ParseTimeOfDay(ns.StartTime)
	end, eErr := ParseTimeOfDay(ns.EndTime)
	if sErr == nil && eErr == nil && end <= start {
		sl.ReportError(ns.EndTime, "end_time", "EndTime", endAfterStartTag, "")
	}

	if ns.IsRecurring {
		if ns.RecurrencePattern == "" {
			sl.ReportError(ns.RecurrencePattern, "recurrence_pattern", "RecurrencePattern", requiredTag, "")
		}
	} else if ns.RecurrencePattern != "" {
		sl.ReportError(ns.RecurrencePattern, "recurrence_pattern", "RecurrencePattern", recurringOnlyTag, "")
	}

	if ns.RecurrencePattern == PatternCustom {
		if len(ns.CustomDays) == 0 {
			sl.ReportError(ns.CustomDays, "custom_days", "CustomDays", requiredTag, "")
		}
	} else if len(ns.CustomDays) > 0 {
		sl.ReportError(ns.CustomDays, "custom_days", "CustomDays", customOnlyTag, "")
	}
}

// transitionStructValidation requires a reason for non-occurrences (absent, leave).
func transitionStructValidation(sl validator.StructLevel) {
	req := sl.Current().Interface().(TransitionRequest)

	if (req.Status == StatusAbsent || req.Status == StatusLeave) && core.CleanString(req.Reason) == "" {
		sl.ReportError(req.Reason, "reason", "Reason", requiredTag, "")
	}
}
