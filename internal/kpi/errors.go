package kpi

import "github.com/rotisserie/eris"

// Error taxonomy shared by the snapshot layer, the engines and the API.
var (
	// ErrInvalidParameter marks a missing or unknown year, attribute or entity.
	ErrInvalidParameter = eris.New("invalid parameter")
	// ErrInsufficientData marks a sample too small for a statistic.
	ErrInsufficientData = eris.New("insufficient data")
	// ErrDegenerateInput marks zero variance or zero adjacency weight.
	ErrDegenerateInput = eris.New("degenerate input")
	// ErrDataSourceUnavailable marks a failed snapshot fetch.
	ErrDataSourceUnavailable = eris.New("data source unavailable")
	// ErrUnavailable marks a year that is not (yet) in the snapshot cache.
	ErrUnavailable = eris.New("not yet available")
)

// Kind names the taxonomy class of an error.
type Kind string

const (
	KindInvalidParameter      Kind = "invalid_parameter"
	KindInsufficientData      Kind = "insufficient_data"
	KindDegenerateInput       Kind = "degenerate_input"
	KindDataSourceUnavailable Kind = "data_source_unavailable"
	KindUnavailable           Kind = "unavailable"
	KindInternal              Kind = "internal"
)

// KindOf classifies err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case eris.Is(err, ErrInvalidParameter):
		return KindInvalidParameter
	case eris.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case eris.Is(err, ErrDegenerateInput):
		return KindDegenerateInput
	case eris.Is(err, ErrDataSourceUnavailable):
		return KindDataSourceUnavailable
	case eris.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// Invalidf wraps ErrInvalidParameter with context.
func Invalidf(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidParameter, format, args...)
}
