package fees

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnmarshalTOML maps snake_case keys, including the legacy "discount_bps"
// spelling, onto the schedule fields.
func (s *Schedule) UnmarshalTOML(data interface{}) error {
	table, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("fees: schedule must decode from a table")
	}
	blob, err := json.Marshal(normalizeScheduleTable(table))
	if err != nil {
		return err
	}
	type alias Schedule
	var decoded alias
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return fmt.Errorf("fees: decode schedule: %w", err)
	}
	*s = Schedule(decoded)
	return nil
}

func normalizeScheduleTable(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "task_bps", "task_fee_bps":
			out["taskBps"] = value
		case "settlement_bps", "settlement_fee_bps":
			out["settlementBps"] = value
		case "transfer_bps", "transfer_fee_bps":
			out["transferBps"] = value
		case "openclaw_discount_bps", "discount_bps":
			out["openClawDiscountBps"] = value
		default:
			out[key] = value
		}
	}
	return out
}

// MarshalText renders the fee type name for JSON map keys and query strings.
func (t FeeType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFeeType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText or the numeric form.
func (t *FeeType) UnmarshalText(text []byte) error {
	parsed, err := ParseFeeType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
