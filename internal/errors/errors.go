package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error, shaped
// <domain>.<operation>.<reason>.
type Code string

const (
	CodeValidationInvalid Code = "ingest.validate.invalid_input"

	CodeStoreConflict        Code = "store.write.conflict"
	CodeStoreEpisodeNotFound Code = "store.episode.not_found"
	CodeStoreEntityNotFound  Code = "store.entity.not_found"
	CodeStoreFactNotFound    Code = "store.fact.not_found"
	CodeStoreDatabaseFailure Code = "store.database.failure"
	CodeStoreBackendInvalid  Code = "store.backend.invalid_value"

	CodeCommitTransient      Code = "commit.retry.transient"
	CodeUnresolvedReference  Code = "versioner.reference.unresolved"
	CodeExtractionUpstream   Code = "extraction.upstream.failure"
	CodeExtractionResponse   Code = "extraction.response.invalid"
	CodeEmbeddingUpstream    Code = "embedding.upstream.failure"
	CodeProviderUnsupported  Code = "llm.provider.invalid_value"
	CodeSearchQueryInvalid   Code = "search.query.invalid_input"
	CodeServerRequestInvalid Code = "server.request.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
)

// Attr is a structured key/value pair attached to an error.
type Attr struct {
	Key   string
	Value any
}

func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

// Wrap attaches code to err. Codes resolve to the deepest one in the chain,
// so wrapping an already-coded error keeps the original classification.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// Reclassify builds a fresh error with code whose message carries err's text
// but not its chain. Used when a retryable cause must surface under a
// different kind (e.g. exhausted conflict retries become transient).
func Reclassify(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return oops.Code(code).With("cause", err.Error()).Errorf("%s: %v", msg, err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", c))
	}
}

func Fields(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsValidation(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsTransient(err error) bool {
	return reason(CodeOf(err)) == "transient"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func IsTimeout(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether the caller may resubmit the same request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsConflict(err) || IsTransient(err) || IsUpstreamFailure(err) || IsTimeout(err) {
		return true
	}
	return HasCode(err, CodeExtractionResponse)
}

func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsTransient(err):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err), HasCode(err, CodeExtractionResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
