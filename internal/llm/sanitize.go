package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// NormalizeCouponJSON reshapes near-miss model output into {coupons:[{code}]}:
//   - renames codes / coupon_codes / coupon to coupons
//   - accepts bare string items and {coupon: "..."} items
//   - trims codes and drops empty ones
//   - drops unknown keys
func NormalizeCouponJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	changed := make([]string, 0, 4)
	for _, alias := range []string{"codes", "coupon_codes", "coupon"} {
		if v, ok := m[alias]; ok {
			if _, exists := m["coupons"]; !exists {
				m["coupons"] = v
			}
			delete(m, alias)
			changed = append(changed, alias+"->coupons")
		}
	}
	for k := range m {
		if k != "coupons" {
			delete(m, k)
			changed = append(changed, k+"(unknown)")
		}
	}

	items, ok := m["coupons"].([]any)
	if !ok {
		if m["coupons"] != nil {
			changed = append(changed, "coupons(type)")
		}
		items = nil
	}
	coupons := make([]map[string]any, 0, len(items))
	for _, it := range items {
		var code string
		switch t := it.(type) {
		case string:
			code = t
			changed = append(changed, "item(bare)")
		case map[string]any:
			if s, ok := t["code"].(string); ok {
				code = s
			} else if s, ok := t["coupon"].(string); ok {
				code = s
				changed = append(changed, "item(coupon->code)")
			}
		}
		code = strings.TrimSpace(code)
		if code == "" {
			changed = append(changed, "item(empty)")
			continue
		}
		coupons = append(coupons, map[string]any{"code": code})
	}

	out, err := json.Marshal(map[string]any{"coupons": coupons})
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(changed) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "changed", changed)
	}
	return out, changed, nil
}

// DedupeCodes keeps the first occurrence of each code, compared case-sensitively.
func DedupeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
