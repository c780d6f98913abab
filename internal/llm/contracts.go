package llm

import "context"

// Coupon is one code the extractor found in free text.
type Coupon struct {
	Code string `json:"code"`
}

// CouponList is the structured shape requested from the model.
type CouponList struct {
	Coupons []Coupon `json:"coupons"`
}

// Codes returns the code strings in model order.
func (l CouponList) Codes() []string {
	out := make([]string, 0, len(l.Coupons))
	for _, c := range l.Coupons {
		out = append(out, c.Code)
	}
	return out
}

// Searcher looks up coupon offers for a site and returns the answer as free text.
type Searcher interface {
	SearchCoupons(ctx context.Context, site string) (string, error)
}

// CodeExtractor pulls coupon codes out of free text.
type CodeExtractor interface {
	ExtractCodes(ctx context.Context, text string) ([]string, error)
}
