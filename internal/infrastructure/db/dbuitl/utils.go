package dbutil

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arkade-os/cjd/internal/core/domain"
)

const outpointSeparator = ","

// Validates time range values. A zero value means unbounded and is allowed.
func ValidateTimeRange(after, before int64) error {
	if after < 0 || before < 0 {
		return fmt.Errorf("after and before must be greater than or equal to 0")
	}
	if before > 0 && after > 0 && before <= after {
		return fmt.Errorf("before must be greater than after")
	}
	return nil
}

func EncodeParameters(params domain.RoundParameters) (string, error) {
	buf, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode round parameters: %s", err)
	}
	return string(buf), nil
}

func DecodeParameters(s string) (domain.RoundParameters, error) {
	var params domain.RoundParameters
	if err := json.Unmarshal([]byte(s), &params); err != nil {
		return params, fmt.Errorf("failed to decode round parameters: %s", err)
	}
	return params, nil
}

func EncodeOutpoints(outpoints []domain.Outpoint) string {
	list := make([]string, 0, len(outpoints))
	for _, outpoint := range outpoints {
		list = append(list, outpoint.String())
	}
	return strings.Join(list, outpointSeparator)
}

func DecodeOutpoints(s string) ([]domain.Outpoint, error) {
	if len(s) == 0 {
		return nil, nil
	}
	parts := strings.Split(s, outpointSeparator)
	outpoints := make([]domain.Outpoint, 0, len(parts))
	for _, part := range parts {
		var outpoint domain.Outpoint
		if err := outpoint.FromString(part); err != nil {
			return nil, err
		}
		outpoints = append(outpoints, outpoint)
	}
	return outpoints, nil
}

// EncodeOffender returns the ledger encoding of the offender, used as the
// stored payload by every data store.
func EncodeOffender(offender domain.Offender) (string, error) {
	buf, err := json.Marshal(offender)
	if err != nil {
		return "", fmt.Errorf("failed to encode offender: %s", err)
	}
	return string(buf), nil
}

func DecodeOffender(s string) (*domain.Offender, error) {
	var offender domain.Offender
	if err := json.Unmarshal([]byte(s), &offender); err != nil {
		return nil, fmt.Errorf("failed to decode offender: %s", err)
	}
	return &offender, nil
}
