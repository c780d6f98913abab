package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/llm"
	"github.com/VerdantVibes/coupon-scraper/internal/remote"
)

var (
	_ llm.Searcher      = (*Client)(nil)
	_ llm.CodeExtractor = (*Client)(nil)
)

// SearchCoupons implements llm.Searcher with the Responses API and the web search tool.
func (c *Client) SearchCoupons(ctx context.Context, site string) (string, error) {
	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("llm.search.start", "req_id", rid, "model", c.cfg.SearchModel, "site", site)

	body := map[string]any{
		"model": c.cfg.SearchModel,
		"tools": []map[string]any{{"type": "web_search_preview"}},
		"input": llm.BuildSearchPrompt(site),
	}
	raw, err := c.post(ctx, "/responses", body)
	if err != nil {
		c.log.Error("llm.search.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("%w: search %s: %w", common.ErrExtraction, site, err)
	}

	text, err := outputText(raw)
	if err != nil {
		c.log.Error("llm.search.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return "", fmt.Errorf("%w: %w", common.ErrExtraction, err)
	}
	c.log.Info("llm.search.ok", "req_id", rid, "site", site, "text_len", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}

// outputText joins the output_text parts of a Responses API answer.
func outputText(raw []byte) (string, error) {
	var resp struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if s := strings.TrimSpace(resp.OutputText); s != "" {
		return s, nil
	}
	var parts []string
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" && strings.TrimSpace(c.Text) != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no output text in openai response")
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

// ExtractCodes implements llm.CodeExtractor using chat/completions in JSON mode.
func (c *Client) ExtractCodes(ctx context.Context, text string) ([]string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(text),
	)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	schema := llm.BuildCouponJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildExtractSystemPrompt()},
			{"role": "user", "content": llm.BuildExtractUserPrompt(text)},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	raw, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		c.log.Error("llm.extract.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: %w", common.ErrExtraction, err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return nil, fmt.Errorf("%w: decode openai response: %w", common.ErrExtraction, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.extract.no_choices", "req_id", rid, "raw", string(raw))
		return nil, fmt.Errorf("%w: no choices in openai response", common.ErrExtraction)
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	// Validate strictly first.
	if err := llm.ValidateJSONAgainstSchema(schema, content); err != nil {
		if !c.cfg.LenientOptional {
			c.log.Error("llm.extract.schema_validation_failed", "req_id", rid, "error", err, "content", string(content))
			return nil, fmt.Errorf("%w: schema validation failed: %w", common.ErrExtraction, err)
		}
		cleaned, changed, sErr := llm.NormalizeCouponJSON(content, c.log)
		if sErr != nil {
			c.log.Error("llm.extract.sanitize_failed", "req_id", rid, "error", sErr)
			return nil, fmt.Errorf("%w: sanitize failed: %w", common.ErrExtraction, sErr)
		}
		if vErr := llm.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.log.Error("llm.extract.schema_validation_failed", "req_id", rid, "error", vErr, "content", string(content))
			return nil, fmt.Errorf("%w: schema validation failed: %w", common.ErrExtraction, vErr)
		}
		c.log.Warn("llm.extract.lenient_sanitize_applied", "req_id", rid, "changed", changed)
		content = cleaned
	}

	var out llm.CouponList
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal coupons: %w", common.ErrExtraction, err)
	}
	codes := llm.DedupeCodes(out.Codes())

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"codes", len(codes),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return codes, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, _, err := remote.SendJSON(ctx, c.http, http.MethodPost, url, body, headers, c.log)
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", path, err)
	}
	return raw, nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
