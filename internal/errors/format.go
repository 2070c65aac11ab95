package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var ae *AppError
	if !errors.As(err, &ae) {
		ae = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ae.Message))
	if ae.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ae.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ae.Code))

	return sb.String()
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	var ae *AppError
	if !errors.As(err, &ae) {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error_code", ae.Code),
		slog.String("error", ae.Message),
		slog.String("category", string(ae.Category)),
		slog.String("severity", string(ae.Severity)),
	}
	if ae.Cause != nil && ae.Cause.Error() != ae.Message {
		attrs = append(attrs, slog.String("cause", ae.Cause.Error()))
	}
	for k, v := range ae.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
